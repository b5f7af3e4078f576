// Package store defines storage interfaces for persisting and retrieving
// domain objects: arbitration config versions, signals, backtest runs,
// trade ledgers, performance metrics, and cached bar data.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"verdict/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ConfigStore persists arbitration config versions. Versions are immutable
// once written; activation flips which single version is active.
type ConfigStore interface {
	// SaveConfig inserts a new config version.
	SaveConfig(ctx context.Context, cfg *domain.ArbitrationConfig) error

	// ActiveConfig returns the currently active config version.
	ActiveConfig(ctx context.Context) (*domain.ArbitrationConfig, error)

	// GetConfigVersion retrieves a specific config version.
	GetConfigVersion(ctx context.Context, version int) (*domain.ArbitrationConfig, error)

	// ActivateVersion marks the given version active and deactivates all
	// others atomically.
	ActivateVersion(ctx context.Context, version int) error

	// ListConfigs returns all config versions, newest first.
	ListConfigs(ctx context.Context) ([]domain.ArbitrationConfig, error)

	// NextConfigVersion returns the next unused version number.
	NextConfigVersion(ctx context.Context) (int, error)
}

// SignalStore persists arbitrated signals.
type SignalStore interface {
	// SaveSignal inserts a new signal into storage.
	SaveSignal(ctx context.Context, signal *domain.Signal) error

	// GetSignal retrieves a single signal by its ID.
	GetSignal(ctx context.Context, id uuid.UUID) (*domain.Signal, error)

	// ListSignals returns the most recent signals for a market, up to limit.
	// An empty market matches all markets.
	ListSignals(ctx context.Context, market string, limit int) ([]domain.Signal, error)
}

// RunStore persists backtest run lifecycle records.
type RunStore interface {
	// SaveRun inserts a new run.
	SaveRun(ctx context.Context, run *domain.BacktestRun) error

	// GetRun retrieves a single run by its ID.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.BacktestRun, error)

	// UpdateRun persists the mutable fields of a non-terminal run. Updating
	// a run already in a terminal state returns an error.
	UpdateRun(ctx context.Context, run *domain.BacktestRun) error

	// ListRuns returns runs newest first, up to limit.
	ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error)
}

// TradeStore persists backtest trade ledgers.
type TradeStore interface {
	// SaveTrades appends ledger rows for a run.
	SaveTrades(ctx context.Context, trades []domain.Trade) error

	// ListTrades returns all ledger rows for a run in chronological order.
	ListTrades(ctx context.Context, runID uuid.UUID) ([]domain.Trade, error)
}

// MetricsStore persists derived performance metrics.
type MetricsStore interface {
	// SaveMetrics inserts or replaces the metrics row for a run.
	SaveMetrics(ctx context.Context, m *domain.PerformanceMetrics) error

	// GetMetrics retrieves the metrics row for a run.
	GetMetrics(ctx context.Context, runID uuid.UUID) (*domain.PerformanceMetrics, error)
}

// BarStore caches OHLCV bar data fetched from upstream sources.
type BarStore interface {
	// WriteBars persists a batch of bars for a market and interval.
	WriteBars(ctx context.Context, market, interval string, bars []domain.Bar) error

	// ReadBars returns bars for the market and interval within [start, end],
	// ordered by open time.
	ReadBars(ctx context.Context, market, interval string, start, end time.Time) ([]domain.Bar, error)

	// ListMarkets returns all markets with cached bars for an interval.
	ListMarkets(ctx context.Context, interval string) ([]string, error)
}
