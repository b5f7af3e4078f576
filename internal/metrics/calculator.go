// Package metrics derives performance statistics from a completed backtest:
// trade counts, win rate, profit factor, drawdown, and risk-adjusted return
// ratios. The calculator is a pure function of the trade ledger and equity
// curve. Ratios that are arithmetically degenerate (too few returns, zero
// variance, zero drawdown) are reported as nil rather than zero so callers
// can tell "not computable" apart from "computed as zero".
package metrics

import (
	"math"
	"time"

	"github.com/google/uuid"

	"verdict/internal/domain"
)

// Calculate derives the full metrics row for a run. Trades is the complete
// ledger (ENTRY and EXIT rows); equityCurve is the per-bar account equity
// including the initial balance.
func Calculate(runID uuid.UUID, trades []domain.Trade, equityCurve []float64, initialBalance, finalBalance float64) domain.PerformanceMetrics {
	// Per-trade P&L comes from EXIT rows only; an ENTRY row has no
	// realized result.
	var pnls []float64
	totalCommission, totalSlippage := 0.0, 0.0
	for _, tr := range trades {
		totalCommission += tr.Commission
		totalSlippage += tr.Slippage
		if tr.Type == domain.TradeExit && tr.RealizedPnL != nil {
			pnls = append(pnls, *tr.RealizedPnL)
		}
	}

	var wins, losses []float64
	for _, pnl := range pnls {
		switch {
		case pnl > 0:
			wins = append(wins, pnl)
		case pnl < 0:
			losses = append(losses, pnl)
		}
	}

	winRate := 0.0
	if len(pnls) > 0 {
		winRate = float64(len(wins)) / float64(len(pnls))
	}

	grossProfit := sum(wins)
	grossLoss := math.Abs(sum(losses))
	profitFactor := 0.0
	switch {
	case grossLoss > 0:
		profitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		profitFactor = math.Inf(1)
	}

	roi := 0.0
	if initialBalance > 0 {
		roi = (finalBalance - initialBalance) / initialBalance
	}

	maxDD := MaxDrawdown(equityCurve)
	returns := tradeReturns(pnls, initialBalance)

	return domain.PerformanceMetrics{
		RunID:           runID,
		TotalTrades:     len(pnls),
		WinningTrades:   len(wins),
		LosingTrades:    len(losses),
		WinRate:         winRate,
		AvgWin:          mean(wins),
		AvgLoss:         mean(losses),
		ProfitFactor:    profitFactor,
		MaxDrawdown:     maxDD,
		ROI:             roi,
		SharpeRatio:     SharpeRatio(returns, 0),
		SortinoRatio:    SortinoRatio(returns, 0),
		CalmarRatio:     CalmarRatio(roi, maxDD),
		OmegaRatio:      OmegaRatio(returns, 0),
		TotalCommission: totalCommission,
		TotalSlippage:   totalSlippage,
		CreatedAt:       time.Now().UTC(),
	}
}

// SharpeRatio is (mean - riskFree) / sample stdev of returns. It is nil
// with fewer than two returns or zero variance.
func SharpeRatio(returns []float64, riskFree float64) *float64 {
	if len(returns) < 2 {
		return nil
	}
	std := sampleStdev(returns)
	if std == 0 {
		return nil
	}
	v := (mean(returns) - riskFree) / std
	return &v
}

// SortinoRatio is (mean - riskFree) / sample stdev of negative returns.
// With no negative returns it is +Inf when the mean is positive and nil
// otherwise.
func SortinoRatio(returns []float64, riskFree float64) *float64 {
	if len(returns) < 2 {
		return nil
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	m := mean(returns)
	if len(downside) == 0 {
		if m > 0 {
			v := math.Inf(1)
			return &v
		}
		return nil
	}

	std := sampleStdev(downside)
	if std == 0 {
		return nil
	}
	v := (m - riskFree) / std
	return &v
}

// CalmarRatio is total return over maximum drawdown, nil when there was no
// drawdown.
func CalmarRatio(totalReturn, maxDrawdown float64) *float64 {
	if maxDrawdown == 0 {
		return nil
	}
	v := totalReturn / math.Abs(maxDrawdown)
	return &v
}

// OmegaRatio is the sum of gains above the threshold over the sum of
// losses below it. With no losses it is +Inf when there are gains and nil
// otherwise.
func OmegaRatio(returns []float64, threshold float64) *float64 {
	if len(returns) == 0 {
		return nil
	}
	gains, losses := 0.0, 0.0
	for _, r := range returns {
		if r > threshold {
			gains += r - threshold
		} else if r < threshold {
			losses += threshold - r
		}
	}
	if losses == 0 {
		if gains > 0 {
			v := math.Inf(1)
			return &v
		}
		return nil
	}
	v := gains / losses
	return &v
}

// MaxDrawdown is the largest peak-to-trough decline of the equity curve,
// as a fraction of the peak.
func MaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0
	}
	peak := equityCurve[0]
	maxDD := 0.0
	for _, v := range equityCurve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// tradeReturns converts per-trade P&L into compounding returns against the
// running balance.
func tradeReturns(pnls []float64, initialBalance float64) []float64 {
	if len(pnls) == 0 || initialBalance <= 0 {
		return nil
	}
	returns := make([]float64, 0, len(pnls))
	balance := initialBalance
	for _, pnl := range pnls {
		if balance <= 0 {
			break
		}
		returns = append(returns, pnl/balance)
		balance += pnl
	}
	return returns
}

func sum(vals []float64) float64 {
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	return sum(vals) / float64(len(vals))
}

// sampleStdev is the standard deviation with Bessel's correction.
func sampleStdev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}
