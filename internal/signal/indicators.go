package signal

import (
	"math"

	"verdict/internal/domain"
)

// SMA returns the simple moving average of closing prices over the last
// period bars. It returns 0 when there are fewer bars than the period.
func SMA(bars []domain.Bar, period int) float64 {
	if period <= 0 || len(bars) < period {
		return 0
	}
	sum := 0.0
	for _, b := range bars[len(bars)-period:] {
		sum += b.Close
	}
	return sum / float64(period)
}

// ATR returns the average true range over the last period bars, where the
// true range of a bar is max(high-low, |high-prevClose|, |low-prevClose|).
// With fewer than period+1 bars it falls back to the high-low range of the
// latest bar.
func ATR(bars []domain.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if period <= 0 || len(bars) < period+1 {
		latest := bars[len(bars)-1]
		return latest.High - latest.Low
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		sum += tr
	}
	return sum / float64(period)
}
