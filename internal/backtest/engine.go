// Package backtest replays the arbitration pipeline over historical bars.
// The engine owns the virtual account and trade ledger of a single run;
// the runner owns run lifecycle, persistence, and bounded concurrency
// across runs. A run is strictly sequential internally: position state at
// bar t+1 depends on bar t.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"verdict/internal/domain"
	"verdict/internal/signal"
)

// Evaluator is the slice of the signal pipeline the engine needs. The
// production implementation is signal.Pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, market string, bars []domain.Bar, cfg domain.ArbitrationConfig) (signal.Outcome, error)
}

var _ Evaluator = (*signal.Pipeline)(nil)

// Result is the raw outcome of one completed replay, before metrics.
type Result struct {
	FinalBalance  float64
	Trades        []domain.Trade
	EquityCurve   []float64
	BarsProcessed int
}

// Engine simulates one backtest run over a bar series. It is single-use:
// create one per run.
type Engine struct {
	run  domain.BacktestRun
	pipe Evaluator
	cfg  domain.ArbitrationConfig
	log  *slog.Logger

	balance  float64
	position *domain.SimulatedPosition
	entryIdx int
	trades   []domain.Trade
	equity   []float64

	onProgress func(float64)
}

// NewEngine creates an Engine for the given run. cfg is the immutable
// config snapshot every evaluation of this run uses. onProgress, if
// non-nil, is called with the completed fraction after every bar.
func NewEngine(run domain.BacktestRun, pipe Evaluator, cfg domain.ArbitrationConfig, onProgress func(float64)) *Engine {
	return &Engine{
		run:        run,
		pipe:       pipe,
		cfg:        cfg,
		balance:    run.InitialBalance,
		equity:     []float64{run.InitialBalance},
		onProgress: onProgress,
		log: slog.Default().With(
			"component", "backtest",
			"run_id", run.ID.String(),
		),
	}
}

// Run replays the bar series chronologically. Each bar first settles any
// open position against the bar's range, then, if flat, evaluates the
// pipeline on the bars available so far. The entry bar itself is never
// exit-checked: its extremes are the same data that produced the entry.
// Cancellation is checked between bars and wraps ErrRunCancelled.
func (e *Engine) Run(ctx context.Context, bars []domain.Bar) (Result, error) {
	if err := e.cfg.Validate(); err != nil {
		return Result{}, err
	}
	if len(bars) == 0 {
		return Result{}, fmt.Errorf("%w: no bars to replay", domain.ErrDataUnavailable)
	}

	total := len(bars)
	e.log.Info("replay started", "market", e.run.Market, "bars", total)

	for i, bar := range bars {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w at bar %d/%d: %v", domain.ErrRunCancelled, i, total, err)
		}

		if e.position != nil && i > e.entryIdx {
			e.settle(bar)
		}

		if e.position == nil {
			e.tryEnter(ctx, bars, i)
		}

		if e.onProgress != nil {
			e.onProgress(float64(i+1) / float64(total))
		}
	}

	// Force-close whatever is still open at the final close.
	if e.position != nil {
		last := bars[total-1]
		e.exit(last.Close, last, domain.ExitBacktestEnd)
	}

	e.log.Info("replay finished",
		"trades", len(e.trades),
		"final_balance", e.balance,
	)

	return Result{
		FinalBalance:  e.balance,
		Trades:        e.trades,
		EquityCurve:   e.equity,
		BarsProcessed: total,
	}, nil
}

// settle checks the open position against one bar's range. When both the
// stop and the target fall inside the range, the stop wins: the
// conservative assumption is that the adverse extreme printed first.
func (e *Engine) settle(bar domain.Bar) {
	switch {
	case bar.Low <= e.position.StopLossPrice:
		e.exit(e.position.StopLossPrice, bar, domain.ExitStopLoss)
	case bar.High >= e.position.ProfitTargetPrice:
		e.exit(e.position.ProfitTargetPrice, bar, domain.ExitProfitTarget)
	}
}

// tryEnter evaluates the pipeline on the bars available at index i and
// opens a position at the bar close on approval. Pipeline errors degrade
// to an implicit rejection; they never abort the replay.
func (e *Engine) tryEnter(ctx context.Context, bars []domain.Bar, i int) {
	out, err := e.pipe.Evaluate(ctx, e.run.Market, bars[:i+1], e.cfg)
	if err != nil {
		e.log.Warn("pipeline evaluation failed, treating as rejected", "bar", i, "err", err)
		return
	}
	if !out.Approved() {
		return
	}

	bar := bars[i]
	sig := out.Signal
	entry := bar.Close
	if entry <= 0 {
		return
	}

	notional := e.balance * sig.SuggestedPositionWeight
	quantity := notional / entry
	commission := notional * e.run.CommissionRate

	if notional+commission > e.balance || quantity <= 0 {
		e.log.Warn("insufficient balance for entry", "bar", i, "notional", notional)
		return
	}

	e.balance -= commission
	e.position = &domain.SimulatedPosition{
		ID:                uuid.New(),
		SignalID:          sig.ID,
		Market:            e.run.Market,
		Quantity:          quantity,
		EntryPrice:        entry,
		StopLossPrice:     sig.StopLossPrice,
		ProfitTargetPrice: sig.ProfitTargetPrice,
		EntryCost:         notional,
		EntryCommission:   commission,
		EntryTime:         bar.OpenTime,
	}
	e.entryIdx = i

	e.trades = append(e.trades, domain.Trade{
		ID:         uuid.New(),
		RunID:      e.run.ID,
		PositionID: e.position.ID,
		SignalID:   sig.ID,
		Market:     e.run.Market,
		Type:       domain.TradeEntry,
		Quantity:   quantity,
		Price:      entry,
		Timestamp:  bar.OpenTime,
		Commission: commission,
	})

	e.log.Debug("position opened",
		"bar", i,
		"entry", entry,
		"stop", sig.StopLossPrice,
		"target", sig.ProfitTargetPrice,
		"quantity", quantity,
	)
}

// exit closes the open position at the given price, records the EXIT row,
// and credits the realized result to the balance and equity curve.
func (e *Engine) exit(price float64, bar domain.Bar, reason string) {
	pos := e.position
	exitNotional := pos.Quantity * price
	exitCommission := exitNotional * e.run.CommissionRate
	slippage := exitNotional * e.run.SlippageRate

	gross := (price - pos.EntryPrice) * pos.Quantity
	realized := gross - exitCommission - pos.EntryCommission - slippage

	// Entry commission was debited when the position opened, so only the
	// exit-side costs come off the gross here.
	e.balance += gross - exitCommission - slippage
	e.equity = append(e.equity, e.balance)

	e.trades = append(e.trades, domain.Trade{
		ID:          uuid.New(),
		RunID:       e.run.ID,
		PositionID:  pos.ID,
		SignalID:    pos.SignalID,
		Market:      e.run.Market,
		Type:        domain.TradeExit,
		Quantity:    pos.Quantity,
		Price:       price,
		Timestamp:   bar.OpenTime,
		Commission:  exitCommission,
		Slippage:    slippage,
		RealizedPnL: &realized,
		ExitReason:  reason,
	})

	e.log.Debug("position closed",
		"exit", price,
		"reason", reason,
		"pnl", realized,
		"balance", e.balance,
	)

	e.position = nil
}
