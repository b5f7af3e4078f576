// Package signal detects pullback entry setups on historical bars and
// derives the price levels and position sizing attached to a trading
// signal. Detection is strictly causal: only bars at or before the
// evaluation point are ever inspected.
package signal

import (
	"log/slog"

	"verdict/internal/domain"
)

// SignalTypePullbackBuy is the only entry setup currently generated.
const SignalTypePullbackBuy = "PULLBACK_BUY"

// maxPullbackRatio bounds how far above the moving average the close may
// sit for the setup to still count as a pullback.
const maxPullbackRatio = 1.10

// Params tunes pullback detection and the derived price levels.
type Params struct {
	MAPeriod            int
	PullbackTolerance   float64
	ATRPeriod           int
	ATRMultiplierStop   float64
	ATRMultiplierTarget float64
}

// EntryPlan is a detected entry setup before arbitration: the prices and
// risk geometry of a would-be trade, without any decision attached.
type EntryPlan struct {
	SignalType        string
	EntryPrice        float64
	StopLossPrice     float64
	ProfitTargetPrice float64
	RiskUnitR         float64
	RewardRiskRatio   float64
}

// Generator evaluates bar windows for pullback entry setups.
type Generator struct {
	params Params
	log    *slog.Logger
}

// NewGenerator creates a Generator with the given parameters.
func NewGenerator(params Params) *Generator {
	if params.MAPeriod <= 0 {
		params.MAPeriod = 20
	}
	if params.ATRPeriod <= 0 {
		params.ATRPeriod = 14
	}
	return &Generator{
		params: params,
		log:    slog.Default().With("component", "signal"),
	}
}

// Evaluate inspects the trailing bars ending at the evaluation point and
// returns an entry plan when a pullback setup is present, or nil when it is
// not. Fewer bars than the MA period never produce a plan.
func (g *Generator) Evaluate(bars []domain.Bar) *EntryPlan {
	if len(bars) < g.params.MAPeriod {
		return nil
	}

	latest := bars[len(bars)-1]
	ma := SMA(bars, g.params.MAPeriod)
	if ma <= 0 {
		return nil
	}

	// Uptrend with the close still near the average: above the MA but not
	// extended beyond the pullback ceiling.
	ratio := latest.Close / ma
	if ratio < 1.0 || ratio > maxPullbackRatio {
		return nil
	}

	entry := latest.Close
	atr := ATR(bars, g.params.ATRPeriod)

	// Stop below the support band or an ATR multiple under entry,
	// whichever is lower.
	stop := min(ma*(1-g.params.PullbackTolerance), entry-atr*g.params.ATRMultiplierStop)
	target := entry + atr*g.params.ATRMultiplierTarget

	risk := entry - stop
	if risk <= 0 {
		return nil
	}

	plan := &EntryPlan{
		SignalType:        SignalTypePullbackBuy,
		EntryPrice:        entry,
		StopLossPrice:     stop,
		ProfitTargetPrice: target,
		RiskUnitR:         risk,
		RewardRiskRatio:   (target - entry) / risk,
	}

	g.log.Debug("pullback setup detected",
		"market", latest.Market,
		"entry", entry,
		"stop", stop,
		"target", target,
		"rr", plan.RewardRiskRatio,
	)

	return plan
}
