// Package httpapi exposes the arbitration and backtest engines over a
// JSON REST API, with run progress pushed to WebSocket subscribers.
package httpapi

import (
	"encoding/json"
	"math"
	"time"

	"verdict/internal/domain"
)

// ratioJSON is a ratio that may be arithmetically infinite, such as the
// profit factor of a run with no losing trades. encoding/json rejects
// non-finite floats, so infinities serialize as the string sentinels
// "inf" and "-inf" instead.
type ratioJSON float64

func (r ratioJSON) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

func (r *ratioJSON) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"inf"`:
		*r = ratioJSON(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = ratioJSON(math.Inf(-1))
		return nil
	case "null":
		*r = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = ratioJSON(f)
	return nil
}

func ratioPtr(p *float64) *ratioJSON {
	if p == nil {
		return nil
	}
	r := ratioJSON(*p)
	return &r
}

// ConfigJSON is the JSON representation of an arbitration config version.
type ConfigJSON struct {
	ID                       string  `json:"id"`
	Version                  int     `json:"version"`
	WeightRule               float64 `json:"weightRule"`
	WeightML                 float64 `json:"weightMl"`
	WeightLLM                float64 `json:"weightLlm"`
	MinApprovalScore         float64 `json:"minApprovalScore"`
	AdaptiveThresholdEnabled bool    `json:"adaptiveThresholdEnabled"`
	IsActive                 bool    `json:"isActive"`
	CreatedAt                string  `json:"createdAt"`
}

func convertConfig(c domain.ArbitrationConfig) ConfigJSON {
	return ConfigJSON{
		ID:                       c.ID.String(),
		Version:                  c.Version,
		WeightRule:               c.WeightRule,
		WeightML:                 c.WeightML,
		WeightLLM:                c.WeightLLM,
		MinApprovalScore:         c.MinApprovalScore,
		AdaptiveThresholdEnabled: c.AdaptiveThresholdEnabled,
		IsActive:                 c.IsActive,
		CreatedAt:                c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SignalJSON is the JSON representation of an arbitrated signal.
type SignalJSON struct {
	ID                      string   `json:"id"`
	Market                  string   `json:"market"`
	SignalType              string   `json:"signalType"`
	EntryPrice              float64  `json:"entryPrice"`
	StopLossPrice           float64  `json:"stopLossPrice"`
	ProfitTargetPrice       float64  `json:"profitTargetPrice"`
	RiskUnitR               float64  `json:"riskUnitR"`
	SuggestedPositionWeight float64  `json:"suggestedPositionWeight"`
	RewardRiskRatio         float64  `json:"rewardRiskRatio"`
	RuleScore               float64  `json:"ruleScore"`
	MLScore                 *float64 `json:"mlScore,omitempty"`
	SentimentLabel          *string  `json:"sentimentLabel,omitempty"`
	FinalScore              float64  `json:"finalScore"`
	Decision                string   `json:"decision"`
	Explanation             string   `json:"explanation"`
	RejectionReason         string   `json:"rejectionReason,omitempty"`
	ConfigVersion           int      `json:"configVersion"`
	CreatedAt               string   `json:"createdAt"`
}

func convertSignal(s domain.Signal) SignalJSON {
	var label *string
	if s.SentimentLabel != nil {
		l := string(*s.SentimentLabel)
		label = &l
	}
	return SignalJSON{
		ID:                      s.ID.String(),
		Market:                  s.Market,
		SignalType:              s.SignalType,
		EntryPrice:              s.EntryPrice,
		StopLossPrice:           s.StopLossPrice,
		ProfitTargetPrice:       s.ProfitTargetPrice,
		RiskUnitR:               s.RiskUnitR,
		SuggestedPositionWeight: s.SuggestedPositionWeight,
		RewardRiskRatio:         s.RewardRiskRatio,
		RuleScore:               s.RuleScore,
		MLScore:                 s.MLScore,
		SentimentLabel:          label,
		FinalScore:              s.FinalScore,
		Decision:                string(s.Decision),
		Explanation:             s.Explanation,
		RejectionReason:         s.RejectionReason,
		ConfigVersion:           s.ConfigVersion,
		CreatedAt:               s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// RunJSON is the JSON representation of a backtest run.
type RunJSON struct {
	ID             string   `json:"id"`
	Market         string   `json:"market"`
	Interval       string   `json:"interval"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	InitialBalance float64  `json:"initialBalance"`
	CommissionRate float64  `json:"commissionRate"`
	SlippageRate   float64  `json:"slippageRate"`
	Status         string   `json:"status"`
	Progress       float64  `json:"progress"`
	FinalBalance   *float64 `json:"finalBalance,omitempty"`
	ErrorMessage   *string  `json:"errorMessage,omitempty"`
	CreatedAt      string   `json:"createdAt"`
	StartedAt      *string  `json:"startedAt,omitempty"`
	CompletedAt    *string  `json:"completedAt,omitempty"`
}

func convertRun(r domain.BacktestRun) RunJSON {
	return RunJSON{
		ID:             r.ID.String(),
		Market:         r.Market,
		Interval:       r.Interval,
		StartDate:      r.StartDate.UTC().Format("2006-01-02"),
		EndDate:        r.EndDate.UTC().Format("2006-01-02"),
		InitialBalance: r.InitialBalance,
		CommissionRate: r.CommissionRate,
		SlippageRate:   r.SlippageRate,
		Status:         string(r.Status),
		Progress:       r.Progress,
		FinalBalance:   r.FinalBalance,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
		StartedAt:      fmtTimePtr(r.StartedAt),
		CompletedAt:    fmtTimePtr(r.CompletedAt),
	}
}

// TradeJSON is the JSON representation of one ledger row.
type TradeJSON struct {
	ID          string   `json:"id"`
	PositionID  string   `json:"positionId"`
	SignalID    string   `json:"signalId"`
	Market      string   `json:"market"`
	TradeType   string   `json:"tradeType"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	Timestamp   string   `json:"timestamp"`
	Commission  float64  `json:"commission"`
	Slippage    float64  `json:"slippage"`
	RealizedPnL *float64 `json:"realizedPnl,omitempty"`
	ExitReason  string   `json:"exitReason,omitempty"`
}

func convertTrade(t domain.Trade) TradeJSON {
	return TradeJSON{
		ID:          t.ID.String(),
		PositionID:  t.PositionID.String(),
		SignalID:    t.SignalID.String(),
		Market:      t.Market,
		TradeType:   string(t.Type),
		Quantity:    t.Quantity,
		Price:       t.Price,
		Timestamp:   t.Timestamp.UTC().Format(time.RFC3339),
		Commission:  t.Commission,
		Slippage:    t.Slippage,
		RealizedPnL: t.RealizedPnL,
		ExitReason:  t.ExitReason,
	}
}

// MetricsJSON is the JSON representation of a run's performance metrics.
// Ratio fields are null when arithmetically degenerate and carry the
// "inf" sentinel when infinite.
type MetricsJSON struct {
	RunID           string     `json:"runId"`
	TotalTrades     int        `json:"totalTrades"`
	WinningTrades   int        `json:"winningTrades"`
	LosingTrades    int        `json:"losingTrades"`
	WinRate         float64    `json:"winRate"`
	AvgWin          float64    `json:"avgWin"`
	AvgLoss         float64    `json:"avgLoss"`
	ProfitFactor    ratioJSON  `json:"profitFactor"`
	MaxDrawdown     float64    `json:"maxDrawdown"`
	ROI             float64    `json:"roi"`
	SharpeRatio     *ratioJSON `json:"sharpeRatio"`
	SortinoRatio    *ratioJSON `json:"sortinoRatio"`
	CalmarRatio     *ratioJSON `json:"calmarRatio"`
	OmegaRatio      *ratioJSON `json:"omegaRatio"`
	TotalCommission float64    `json:"totalCommission"`
	TotalSlippage   float64    `json:"totalSlippage"`
}

func convertMetrics(m domain.PerformanceMetrics) MetricsJSON {
	return MetricsJSON{
		RunID:           m.RunID.String(),
		TotalTrades:     m.TotalTrades,
		WinningTrades:   m.WinningTrades,
		LosingTrades:    m.LosingTrades,
		WinRate:         m.WinRate,
		AvgWin:          m.AvgWin,
		AvgLoss:         m.AvgLoss,
		ProfitFactor:    ratioJSON(m.ProfitFactor),
		MaxDrawdown:     m.MaxDrawdown,
		ROI:             m.ROI,
		SharpeRatio:     ratioPtr(m.SharpeRatio),
		SortinoRatio:    ratioPtr(m.SortinoRatio),
		CalmarRatio:     ratioPtr(m.CalmarRatio),
		OmegaRatio:      ratioPtr(m.OmegaRatio),
		TotalCommission: m.TotalCommission,
		TotalSlippage:   m.TotalSlippage,
	}
}

// CreateRunRequest is the body for creating a backtest run.
type CreateRunRequest struct {
	Market         string  `json:"market"`
	Interval       string  `json:"interval"`
	StartDate      string  `json:"startDate"` // YYYY-MM-DD
	EndDate        string  `json:"endDate"`   // YYYY-MM-DD
	InitialBalance float64 `json:"initialBalance"`
	CommissionRate float64 `json:"commissionRate"`
	SlippageRate   float64 `json:"slippageRate"`
}

// CreateConfigRequest is the body for registering a new arbitration config
// version.
type CreateConfigRequest struct {
	WeightRule               float64 `json:"weightRule"`
	WeightML                 float64 `json:"weightMl"`
	WeightLLM                float64 `json:"weightLlm"`
	MinApprovalScore         float64 `json:"minApprovalScore"`
	AdaptiveThresholdEnabled bool    `json:"adaptiveThresholdEnabled"`
	Activate                 bool    `json:"activate"`
}

// GenerateSignalRequest is the body for on-demand signal generation.
type GenerateSignalRequest struct {
	Market   string `json:"market"`
	Interval string `json:"interval"`
}

// GenerateSignalResponse is the tagged outcome of one evaluation: an
// approved or rejected signal, or a plain rejection when no entry setup
// was present. A rejection is a normal result, never an HTTP error.
type GenerateSignalResponse struct {
	Decision string      `json:"decision"`
	Reason   string      `json:"reason,omitempty"`
	Signal   *SignalJSON `json:"signal,omitempty"`
}

// ProgressEvent is the WebSocket payload pushed while runs execute.
type ProgressEvent struct {
	RunID    string  `json:"runId"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
