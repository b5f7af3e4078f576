package arbiter

import "sync"

// ApprovalWindow tracks the approval outcomes of the most recent decisions
// in a fixed-size ring. It is safe for concurrent use.
type ApprovalWindow struct {
	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   int
}

// NewApprovalWindow creates a window covering the last size decisions.
func NewApprovalWindow(size int) *ApprovalWindow {
	if size < 1 {
		size = 1
	}
	return &ApprovalWindow{outcomes: make([]bool, size)}
}

// Record appends one decision outcome, evicting the oldest when full.
func (w *ApprovalWindow) Record(approved bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes[w.next] = approved
	w.next = (w.next + 1) % len(w.outcomes)
	if w.filled < len(w.outcomes) {
		w.filled++
	}
}

// Rate returns the fraction of approvals among recorded decisions. The
// second return is false while the window is empty.
func (w *ApprovalWindow) Rate() (float64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, false
	}
	approved := 0
	for i := 0; i < w.filled; i++ {
		if w.outcomes[i] {
			approved++
		}
	}
	return float64(approved) / float64(w.filled), true
}

// Len reports how many decisions the window currently holds.
func (w *ApprovalWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filled
}

// Reset clears all recorded outcomes.
func (w *ApprovalWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next = 0
	w.filled = 0
}
