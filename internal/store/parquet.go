package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"verdict/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore caches OHLCV bars in Parquet files on disk, one file per
// market, interval, and year.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data
// directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for cached bar data.
type BarRecord struct {
	Market   string  `parquet:"market"`
	OpenTime int64   `parquet:"open_time,timestamp(millisecond)"` // Unix ms
	Open     float64 `parquet:"open"`
	High     float64 `parquet:"high"`
	Low      float64 `parquet:"low"`
	Close    float64 `parquet:"close"`
	Volume   float64 `parquet:"volume"`
}

// WriteBars writes bars to Parquet files grouped by year, merging with any
// existing records for the same file. Layout:
//
//	<DataDir>/bars/<interval>/<MARKET>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, market, interval string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.OpenTime.UTC().Year()
		groups[year] = append(groups[year], BarRecord{
			Market:   b.Market,
			OpenTime: b.OpenTime.UnixMilli(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}

	for year, records := range groups {
		path := s.barPath(market, interval, year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s/%d: %w", market, interval, year, err)
		}
	}
	return nil
}

// ReadBars reads cached bars for the market and interval within [start, end],
// ordered by open time.
func (s *ParquetStore) ReadBars(_ context.Context, market, interval string, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(market, interval, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// No file cached for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.OpenTime).UTC()
			if !ts.Before(start) && !ts.After(end) {
				bars = append(bars, domain.Bar{
					Market:   r.Market,
					OpenTime: ts,
					Open:     r.Open,
					High:     r.High,
					Low:      r.Low,
					Close:    r.Close,
					Volume:   r.Volume,
				})
			}
		}
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].OpenTime.Before(bars[j].OpenTime)
	})
	return bars, nil
}

// ListMarkets lists all markets with cached bars for an interval.
func (s *ParquetStore) ListMarkets(_ context.Context, interval string) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars", interval)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var markets []string
	for _, e := range entries {
		if e.IsDir() {
			markets = append(markets, e.Name())
		}
	}
	sort.Strings(markets)
	return markets, nil
}

// barPath returns the filesystem path for a bar Parquet file.
func (s *ParquetStore) barPath(market, interval string, year int) string {
	return filepath.Join(s.DataDir, "bars", interval, strings.ToUpper(market), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (market, open time), preferring
// new records over existing ones. Results are sorted by open time.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		market string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Market, r.OpenTime}] = r
	}
	for _, r := range incoming {
		seen[key{r.Market, r.OpenTime}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].OpenTime < merged[j].OpenTime
	})
	return merged
}
