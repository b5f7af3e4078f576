// Package domain defines the core data model shared across the verdict
// platform: market bars, score bundles, signals, arbitration configuration,
// backtest runs, trades, and performance metrics.
package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV candlestick for a market.
type Bar struct {
	Market   string
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// ---------------------------------------------------------------------------
// Scores
// ---------------------------------------------------------------------------

// SentimentLabel is the categorical output of the sentiment score provider.
type SentimentLabel string

const (
	SentimentBullish SentimentLabel = "BULLISH"
	SentimentBearish SentimentLabel = "BEARISH"
	SentimentNeutral SentimentLabel = "NEUTRAL"
)

// SentimentScore is a categorical sentiment with a confidence in [0, 1].
type SentimentScore struct {
	Label      SentimentLabel
	Confidence float64
}

// ScoreSet bundles the component scores collected for one evaluation.
// MLScore and Sentiment are nil when the corresponding provider was
// unavailable; the arbiter substitutes a neutral value for missing
// components rather than renormalizing weights.
type ScoreSet struct {
	RuleScore float64
	MLScore   *float64
	Sentiment *SentimentScore
}

// ---------------------------------------------------------------------------
// Arbitration configuration
// ---------------------------------------------------------------------------

// ArbitrationConfig is one immutable version of the fusion weights and
// approval threshold. Exactly one version is active at any time; changes
// create a new version rather than mutating an existing row.
type ArbitrationConfig struct {
	ID                       uuid.UUID
	Version                  int
	WeightRule               float64
	WeightML                 float64
	WeightLLM                float64
	MinApprovalScore         float64
	AdaptiveThresholdEnabled bool
	IsActive                 bool
	CreatedAt                time.Time
}

// WeightTolerance is the permitted deviation of the weight sum from 1.0.
const WeightTolerance = 1e-6

// Validate checks the configuration invariants. A config whose weights do
// not sum to 1.0 within tolerance, or whose threshold lies outside [0, 100],
// is a configuration error and must never be silently corrected.
func (c ArbitrationConfig) Validate() error {
	sum := c.WeightRule + c.WeightML + c.WeightLLM
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %.8f, want 1.0", ErrConfiguration, sum)
	}
	if c.WeightRule < 0 || c.WeightML < 0 || c.WeightLLM < 0 {
		return fmt.Errorf("%w: negative weight", ErrConfiguration)
	}
	if c.MinApprovalScore < 0 || c.MinApprovalScore > 100 {
		return fmt.Errorf("%w: min_approval_score %.2f outside [0,100]", ErrConfiguration, c.MinApprovalScore)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

// Decision is the arbiter's verdict on a signal.
type Decision string

const (
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// Signal is a fully arbitrated trading signal. It is immutable after
// creation; the arbiter sets Decision and Explanation exactly once before
// the signal is persisted.
type Signal struct {
	ID                      uuid.UUID
	Market                  string
	SignalType              string
	EntryPrice              float64
	StopLossPrice           float64
	ProfitTargetPrice       float64
	RiskUnitR               float64
	SuggestedPositionWeight float64
	RewardRiskRatio         float64

	RuleScore      float64
	MLScore        *float64
	SentimentLabel *SentimentLabel
	FinalScore     float64

	Decision        Decision
	Explanation     string
	RejectionReason string // empty when approved
	ConfigVersion   int
	CreatedAt       time.Time
}

// ---------------------------------------------------------------------------
// Backtest runs
// ---------------------------------------------------------------------------

// RunStatus is the lifecycle state of a BacktestRun.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// BacktestRun is one historical replay of the arbitration pipeline over a
// market and date range. Terminal states are immutable.
type BacktestRun struct {
	ID             uuid.UUID
	Market         string
	Interval       string
	StartDate      time.Time
	EndDate        time.Time
	InitialBalance float64
	CommissionRate float64
	SlippageRate   float64

	Status       RunStatus
	Progress     float64 // [0, 1], observable while RUNNING
	FinalBalance *float64
	ErrorMessage *string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// ---------------------------------------------------------------------------
// Trades and positions
// ---------------------------------------------------------------------------

// TradeType distinguishes the two rows a round trip produces.
type TradeType string

const (
	TradeEntry TradeType = "ENTRY"
	TradeExit  TradeType = "EXIT"
)

// Exit reasons recorded on EXIT trades.
const (
	ExitStopLoss     = "STOP_LOSS_HIT"
	ExitProfitTarget = "PROFIT_TARGET_HIT"
	ExitBacktestEnd  = "BACKTEST_END"
)

// Trade is one ledger row. Every round trip produces an ENTRY row and an
// EXIT row sharing a PositionID; RealizedPnL is set only on the EXIT row.
type Trade struct {
	ID          uuid.UUID
	RunID       uuid.UUID
	PositionID  uuid.UUID
	SignalID    uuid.UUID
	Market      string
	Type        TradeType
	Quantity    float64
	Price       float64
	Timestamp   time.Time
	Commission  float64
	Slippage    float64
	RealizedPnL *float64
	ExitReason  string // empty on ENTRY
}

// SimulatedPosition is the ephemeral open position owned by a single
// backtest run. The single-asset model holds at most one per market.
type SimulatedPosition struct {
	ID                uuid.UUID
	SignalID          uuid.UUID
	Market            string
	Quantity          float64
	EntryPrice        float64
	StopLossPrice     float64
	ProfitTargetPrice float64
	EntryCost         float64
	EntryCommission   float64
	EntrySlippage     float64
	EntryTime         time.Time
}

// ---------------------------------------------------------------------------
// Performance metrics
// ---------------------------------------------------------------------------

// PerformanceMetrics is the derived statistics row for a completed run.
// Ratio fields are nil when arithmetically degenerate (zero variance, no
// losing trades, zero drawdown) rather than NaN. ProfitFactor is +Inf when
// there are no losses.
type PerformanceMetrics struct {
	RunID           uuid.UUID
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         float64
	AvgWin          float64
	AvgLoss         float64
	ProfitFactor    float64
	MaxDrawdown     float64
	ROI             float64
	SharpeRatio     *float64
	SortinoRatio    *float64
	CalmarRatio     *float64
	OmegaRatio      *float64
	TotalCommission float64
	TotalSlippage   float64
	CreatedAt       time.Time
}
