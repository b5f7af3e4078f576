package datahub

import (
	"context"
	"log/slog"
	"time"

	"verdict/internal/domain"
	"verdict/internal/store"
)

// Compile-time interface check.
var _ BarSource = (*CachedSource)(nil)

// CachedSource layers a write-through bar cache over an upstream source.
// A range fully covered by the cache never touches the upstream API.
type CachedSource struct {
	upstream BarSource
	cache    store.BarStore
	log      *slog.Logger
}

// NewCachedSource creates a CachedSource over the given upstream and cache.
func NewCachedSource(upstream BarSource, cache store.BarStore) *CachedSource {
	return &CachedSource{
		upstream: upstream,
		cache:    cache,
		log:      slog.Default().With("component", "datahub-cache"),
	}
}

// Bars serves the range from the cache when it is complete, and otherwise
// fetches upstream and writes through before returning.
func (s *CachedSource) Bars(ctx context.Context, market, interval string, start, end time.Time) ([]domain.Bar, error) {
	cached, err := s.cache.ReadBars(ctx, market, interval, start, end)
	if err == nil && s.covers(cached, interval, start, end) {
		s.log.Debug("cache hit", "market", market, "interval", interval, "count", len(cached))
		return cached, nil
	}

	bars, err := s.upstream.Bars(ctx, market, interval, start, end)
	if err != nil {
		// Fall back to a partial cache rather than failing outright; the
		// caller's validation decides whether partial data is usable.
		if len(cached) > 0 {
			s.log.Warn("upstream fetch failed, serving cached bars",
				"market", market, "count", len(cached), "err", err)
			return cached, nil
		}
		return nil, err
	}

	if werr := s.cache.WriteBars(ctx, market, interval, bars); werr != nil {
		s.log.Warn("bar cache write failed", "market", market, "err", werr)
	}
	return bars, nil
}

// covers reports whether cached bars span the requested range: the first
// bar opens within one interval of start and the last within one interval
// of end.
func (s *CachedSource) covers(bars []domain.Bar, interval string, start, end time.Time) bool {
	if len(bars) == 0 {
		return false
	}
	step, err := IntervalDuration(interval)
	if err != nil {
		return false
	}
	first, last := bars[0].OpenTime, bars[len(bars)-1].OpenTime
	return !first.After(start.Add(step)) && !last.Before(end.Add(-step))
}
