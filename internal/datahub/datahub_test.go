package datahub

import (
	"context"
	"errors"
	"testing"
	"time"

	"verdict/internal/domain"
	"verdict/internal/store"
)

func hourlyBars(start time.Time, n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + float64(i)
		bars[i] = domain.Bar{
			Market:   "BTCUSDT",
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	return bars
}

func TestIntervalDuration(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"1h", time.Hour, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"", 0, true},
		{"h", 0, true},
		{"0h", 0, true},
		{"1x", 0, true},
	}
	for _, tc := range cases {
		got, err := IntervalDuration(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("IntervalDuration(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("IntervalDuration(%q) = %v, %v, want %v", tc.in, got, err, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := hourlyBars(start, 3)

	// Shuffle and duplicate one open time with a newer close.
	dup := bars[1]
	dup.Close = 999
	shuffled := []domain.Bar{bars[2], bars[0], bars[1], dup}

	out := Normalize(shuffled)
	if len(out) != 3 {
		t.Fatalf("Normalize returned %d bars, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if !out[i].OpenTime.After(out[i-1].OpenTime) {
			t.Fatal("Normalize output not strictly ordered")
		}
	}
	if out[1].Close != 999 {
		t.Errorf("duplicate resolution kept Close = %v, want newest 999", out[1].Close)
	}
}

func TestValidate(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := Validate(nil, "1h", 1); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("Validate(empty) = %v, want ErrDataUnavailable", err)
	}

	if err := Validate(hourlyBars(start, 5), "1h", 1); err != nil {
		t.Errorf("Validate(contiguous) = %v, want nil", err)
	}

	// Out of order.
	bars := hourlyBars(start, 3)
	bars[1], bars[2] = bars[2], bars[1]
	if err := Validate(bars, "1h", 1); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("Validate(unordered) = %v, want ErrDataUnavailable", err)
	}

	// A 3-hour hole fails with maxGapBars 2 but passes with 3.
	gapped := append(hourlyBars(start, 2), hourlyBars(start.Add(4*time.Hour), 2)...)
	if err := Validate(gapped, "1h", 2); !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("Validate(gapped, max 2) = %v, want ErrDataUnavailable", err)
	}
	if err := Validate(gapped, "1h", 3); err != nil {
		t.Errorf("Validate(gapped, max 3) = %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// Cached source
// ---------------------------------------------------------------------------

type fakeSource struct {
	bars  []domain.Bar
	err   error
	calls int
}

func (f *fakeSource) Bars(_ context.Context, _, _ string, _, _ time.Time) ([]domain.Bar, error) {
	f.calls++
	return f.bars, f.err
}

func TestCachedSourceWriteThrough(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(9 * time.Hour)

	upstream := &fakeSource{bars: hourlyBars(start, 10)}
	cache := store.NewParquetStore(t.TempDir())
	src := NewCachedSource(upstream, cache)

	// First call misses the cache and fetches upstream.
	got, err := src.Bars(ctx, "BTCUSDT", "1h", start, end)
	if err != nil {
		t.Fatalf("Bars (cold): %v", err)
	}
	if len(got) != 10 || upstream.calls != 1 {
		t.Fatalf("cold read: %d bars, %d upstream calls; want 10, 1", len(got), upstream.calls)
	}

	// Second call is served entirely from the cache.
	got, err = src.Bars(ctx, "BTCUSDT", "1h", start, end)
	if err != nil {
		t.Fatalf("Bars (warm): %v", err)
	}
	if len(got) != 10 {
		t.Errorf("warm read returned %d bars, want 10", len(got))
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (cache hit)", upstream.calls)
	}
}

func TestCachedSourceUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(9 * time.Hour)

	upstream := &fakeSource{err: domain.ErrProviderUnavailable}
	cache := store.NewParquetStore(t.TempDir())
	src := NewCachedSource(upstream, cache)

	// Empty cache and failing upstream: the error propagates.
	if _, err := src.Bars(ctx, "BTCUSDT", "1h", start, end); err == nil {
		t.Fatal("Bars should fail with empty cache and failing upstream")
	}

	// Partial cache and failing upstream: serve what we have.
	partial := hourlyBars(start, 5)
	if err := cache.WriteBars(ctx, "BTCUSDT", "1h", partial); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	got, err := src.Bars(ctx, "BTCUSDT", "1h", start, end)
	if err != nil {
		t.Fatalf("Bars (partial cache): %v", err)
	}
	if len(got) != 5 {
		t.Errorf("partial read returned %d bars, want 5", len(got))
	}
}
