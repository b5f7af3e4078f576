package domain

import "errors"

// Error taxonomy for the arbitration and backtest engines. Callers match
// these with errors.Is; packages wrap them with context via fmt.Errorf.
var (
	// ErrConfiguration marks an invalid ArbitrationConfig. Fatal and
	// surfaced immediately, never silently corrected.
	ErrConfiguration = errors.New("arbitration configuration invalid")

	// ErrDataUnavailable marks missing or insufficient historical bars for
	// a requested range. Fatal to the specific backtest run only.
	ErrDataUnavailable = errors.New("historical data unavailable")

	// ErrProviderUnavailable marks a score provider that could not produce
	// a score. Recovered locally via neutral fallback, never surfaced to
	// the pipeline caller.
	ErrProviderUnavailable = errors.New("score provider unavailable")

	// ErrRunCancelled marks a backtest run cancelled between bars. The run
	// transitions to FAILED with a distinct cancelled reason.
	ErrRunCancelled = errors.New("backtest run cancelled")
)
