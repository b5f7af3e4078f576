// Package datahub supplies historical OHLCV bars to the rest of the
// platform. Sources fetch from upstream APIs; the cached source layers a
// Parquet write-through cache on top so repeated backtests over the same
// range never refetch. All sources return bars strictly ordered by open
// time with no duplicates.
package datahub

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"verdict/internal/domain"
)

// BarSource supplies historical bars for a market over a closed time range.
type BarSource interface {
	// Bars returns bars for [start, end], ordered by open time. It wraps
	// ErrDataUnavailable when no data exists for the range.
	Bars(ctx context.Context, market, interval string, start, end time.Time) ([]domain.Bar, error)
}

// IntervalDuration parses an interval string like "15m", "1h", or "1d"
// into its bar duration.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid interval %q", interval)
	}
	switch strings.ToLower(interval[len(interval)-1:]) {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	case "d":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid interval %q", interval)
}

// Normalize sorts bars by open time and drops duplicates, keeping the last
// record for each open time.
func Normalize(bars []domain.Bar) []domain.Bar {
	if len(bars) == 0 {
		return bars
	}
	seen := make(map[int64]domain.Bar, len(bars))
	for _, b := range bars {
		seen[b.OpenTime.UnixMilli()] = b
	}
	out := make([]domain.Bar, 0, len(seen))
	for _, b := range seen {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// Validate checks that bars are non-empty, strictly ordered by open time,
// and free of gaps larger than the bar interval. A gap is reported but
// tolerated up to maxGapBars consecutive missing bars; beyond that the
// data is unusable for causal replay.
func Validate(bars []domain.Bar, interval string, maxGapBars int) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: empty bar set", domain.ErrDataUnavailable)
	}
	step, err := IntervalDuration(interval)
	if err != nil {
		return err
	}
	if maxGapBars < 1 {
		maxGapBars = 1
	}

	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1], bars[i]
		if !cur.OpenTime.After(prev.OpenTime) {
			return fmt.Errorf("%w: bars out of order at %s", domain.ErrDataUnavailable,
				cur.OpenTime.Format(time.RFC3339))
		}
		gap := cur.OpenTime.Sub(prev.OpenTime)
		if gap > step*time.Duration(maxGapBars) {
			return fmt.Errorf("%w: gap of %s after %s exceeds %d bars", domain.ErrDataUnavailable,
				gap, prev.OpenTime.Format(time.RFC3339), maxGapBars)
		}
	}
	return nil
}
