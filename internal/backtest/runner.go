package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"verdict/internal/datahub"
	"verdict/internal/domain"
	"verdict/internal/metrics"
	"verdict/internal/store"
)

// progressFlushEvery is how many bars elapse between persisted progress
// updates. The in-memory progress still advances every bar.
const progressFlushEvery = 100

// ProgressFunc receives throttled run progress updates, for pushing to
// live subscribers.
type ProgressFunc func(runID uuid.UUID, status domain.RunStatus, progress float64)

// RunnerOptions tunes the runner.
type RunnerOptions struct {
	// MaxConcurrentRuns bounds how many runs replay at once. Zero or
	// negative means 1.
	MaxConcurrentRuns int

	// MaxGapBars is the largest tolerated hole in the bar series, in bars.
	MaxGapBars int

	// Notify, if non-nil, receives progress and status updates.
	Notify ProgressFunc
}

// Runner executes backtest runs: it acquires the bar series, drives the
// engine, and persists the lifecycle, ledger, and metrics. Runs execute
// concurrently up to the configured bound; each run is sequential inside.
type Runner struct {
	runs    store.RunStore
	trades  store.TradeStore
	metrics store.MetricsStore
	configs store.ConfigStore
	source  datahub.BarSource
	newEval func() Evaluator
	opts    RunnerOptions
	log     *slog.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
}

// NewRunner creates a Runner. newEval constructs a fresh evaluator per run
// so that per-run arbiter state (the adaptive approval window) is never
// shared across concurrent runs.
func NewRunner(runs store.RunStore, trades store.TradeStore, metricsStore store.MetricsStore, configs store.ConfigStore, source datahub.BarSource, newEval func() Evaluator, opts RunnerOptions) *Runner {
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	if opts.MaxGapBars <= 0 {
		opts.MaxGapBars = 3
	}
	return &Runner{
		runs:    runs,
		trades:  trades,
		metrics: metricsStore,
		configs: configs,
		source:  source,
		newEval: newEval,
		opts:    opts,
		log:     slog.Default().With("component", "backtest-runner"),
		sem:     make(chan struct{}, opts.MaxConcurrentRuns),
		cancels: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Launch schedules a persisted PENDING run for execution and returns
// immediately. The run waits for a free worker slot before replaying.
func (r *Runner) Launch(run domain.BacktestRun) {
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.cancels[run.ID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, run.ID)
			r.mu.Unlock()
			cancel()
		}()

		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		r.execute(ctx, run)
	}()
}

// Cancel requests cancellation of an in-flight run. It reports whether the
// run was known to the runner; the run itself transitions to FAILED with a
// cancelled reason on its next bar boundary.
func (r *Runner) Cancel(runID uuid.UUID) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels all in-flight runs and waits for them to settle.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// execute drives one run from PENDING to a terminal state.
func (r *Runner) execute(ctx context.Context, run domain.BacktestRun) {
	log := r.log.With("run_id", run.ID.String(), "market", run.Market)

	cfg, err := r.configs.ActiveConfig(ctx)
	if err != nil {
		r.fail(&run, fmt.Errorf("loading active config: %w", err))
		return
	}

	bars, err := r.source.Bars(ctx, run.Market, run.Interval, run.StartDate, run.EndDate)
	if err == nil {
		err = datahub.Validate(bars, run.Interval, r.opts.MaxGapBars)
	}
	if err != nil {
		r.fail(&run, fmt.Errorf("acquiring bars: %w", err))
		return
	}

	now := time.Now().UTC()
	run.Status = domain.RunRunning
	run.StartedAt = &now
	run.Progress = 0
	if uerr := r.runs.UpdateRun(ctx, &run); uerr != nil {
		log.Error("marking run RUNNING failed", "err", uerr)
		return
	}
	r.push(run.ID, domain.RunRunning, 0)

	barsSeen := 0
	onProgress := func(p float64) {
		run.Progress = p
		barsSeen++
		if barsSeen%progressFlushEvery == 0 {
			if uerr := r.runs.UpdateRun(ctx, &run); uerr != nil {
				log.Warn("progress update failed", "err", uerr)
			}
			r.push(run.ID, domain.RunRunning, p)
		}
	}

	engine := NewEngine(run, r.newEval(), *cfg, onProgress)
	res, err := engine.Run(ctx, bars)
	if err != nil {
		r.fail(&run, err)
		return
	}

	if len(res.Trades) > 0 {
		if serr := r.trades.SaveTrades(context.Background(), res.Trades); serr != nil {
			r.fail(&run, fmt.Errorf("saving trades: %w", serr))
			return
		}
	}

	m := metrics.Calculate(run.ID, res.Trades, res.EquityCurve, run.InitialBalance, res.FinalBalance)
	if serr := r.metrics.SaveMetrics(context.Background(), &m); serr != nil {
		r.fail(&run, fmt.Errorf("saving metrics: %w", serr))
		return
	}

	done := time.Now().UTC()
	run.Status = domain.RunCompleted
	run.Progress = 1
	run.FinalBalance = &res.FinalBalance
	run.CompletedAt = &done
	if uerr := r.runs.UpdateRun(context.Background(), &run); uerr != nil {
		log.Error("marking run COMPLETED failed", "err", uerr)
		return
	}
	r.push(run.ID, domain.RunCompleted, 1)

	log.Info("run completed",
		"final_balance", res.FinalBalance,
		"trades", len(res.Trades),
		"roi", m.ROI,
	)
}

// fail transitions a run to FAILED with the error message. Cancellation
// arrives here too, with its own distinct reason.
func (r *Runner) fail(run *domain.BacktestRun, cause error) {
	msg := cause.Error()
	now := time.Now().UTC()

	run.Status = domain.RunFailed
	run.ErrorMessage = &msg
	run.CompletedAt = &now

	// The run's own context may already be cancelled.
	if err := r.runs.UpdateRun(context.Background(), run); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.log.Error("marking run FAILED failed", "run_id", run.ID.String(), "err", err)
	}
	r.push(run.ID, domain.RunFailed, run.Progress)

	if errors.Is(cause, domain.ErrRunCancelled) {
		r.log.Info("run cancelled", "run_id", run.ID.String())
		return
	}
	r.log.Error("run failed", "run_id", run.ID.String(), "err", cause)
}

func (r *Runner) push(runID uuid.UUID, status domain.RunStatus, progress float64) {
	if r.opts.Notify != nil {
		r.opts.Notify(runID, status, progress)
	}
}
