package metrics

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"verdict/internal/domain"
)

func f64(v float64) *float64 { return &v }

func exitTrade(pnl, commission float64) domain.Trade {
	return domain.Trade{
		ID:          uuid.New(),
		Type:        domain.TradeExit,
		Commission:  commission,
		RealizedPnL: f64(pnl),
	}
}

func entryTrade(commission float64) domain.Trade {
	return domain.Trade{
		ID:         uuid.New(),
		Type:       domain.TradeEntry,
		Commission: commission,
	}
}

func TestCalculateBasicCounts(t *testing.T) {
	trades := []domain.Trade{
		entryTrade(10),
		exitTrade(500, 10),
		entryTrade(10),
		exitTrade(-200, 10),
		entryTrade(10),
		exitTrade(300, 10),
	}
	equity := []float64{100000, 100500, 100300, 100600}

	m := Calculate(uuid.New(), trades, equity, 100000, 100600)

	// Only EXIT rows count as trades.
	if m.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", m.TotalTrades)
	}
	if m.WinningTrades != 2 || m.LosingTrades != 1 {
		t.Errorf("win/loss = %d/%d, want 2/1", m.WinningTrades, m.LosingTrades)
	}
	if math.Abs(m.WinRate-2.0/3.0) > 1e-9 {
		t.Errorf("WinRate = %v, want 2/3", m.WinRate)
	}
	if math.Abs(m.AvgWin-400) > 1e-9 {
		t.Errorf("AvgWin = %v, want 400", m.AvgWin)
	}
	if math.Abs(m.AvgLoss-(-200)) > 1e-9 {
		t.Errorf("AvgLoss = %v, want -200", m.AvgLoss)
	}
	if math.Abs(m.ProfitFactor-4.0) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want 4.0", m.ProfitFactor)
	}
	if math.Abs(m.ROI-0.006) > 1e-9 {
		t.Errorf("ROI = %v, want 0.006", m.ROI)
	}
	if math.Abs(m.TotalCommission-60) > 1e-9 {
		t.Errorf("TotalCommission = %v, want 60", m.TotalCommission)
	}
}

func TestCalculateNoTrades(t *testing.T) {
	m := Calculate(uuid.New(), nil, []float64{100000, 100000}, 100000, 100000)

	if m.TotalTrades != 0 {
		t.Errorf("TotalTrades = %d, want 0", m.TotalTrades)
	}
	if m.WinRate != 0 {
		t.Errorf("WinRate = %v, want 0 with no trades", m.WinRate)
	}
	if m.ProfitFactor != 0 {
		t.Errorf("ProfitFactor = %v, want 0 with no trades", m.ProfitFactor)
	}
	if m.SharpeRatio != nil || m.SortinoRatio != nil || m.CalmarRatio != nil || m.OmegaRatio != nil {
		t.Error("ratios should be nil with no trades")
	}
}

func TestProfitFactorNoLosses(t *testing.T) {
	trades := []domain.Trade{exitTrade(100, 0), exitTrade(50, 0)}
	m := Calculate(uuid.New(), trades, []float64{1000, 1100, 1150}, 1000, 1150)

	if !math.IsInf(m.ProfitFactor, 1) {
		t.Errorf("ProfitFactor = %v, want +Inf with no losses", m.ProfitFactor)
	}
}

func TestSharpeRatio(t *testing.T) {
	if got := SharpeRatio([]float64{0.01}, 0); got != nil {
		t.Errorf("SharpeRatio with 1 return = %v, want nil", *got)
	}
	if got := SharpeRatio([]float64{0.01, 0.01, 0.01}, 0); got != nil {
		t.Errorf("SharpeRatio with zero variance = %v, want nil", *got)
	}

	returns := []float64{0.02, -0.01, 0.03}
	got := SharpeRatio(returns, 0)
	if got == nil {
		t.Fatal("SharpeRatio = nil, want value")
	}
	// mean = 0.013333..., sample stdev of {0.02, -0.01, 0.03}.
	m := (0.02 - 0.01 + 0.03) / 3
	ss := math.Pow(0.02-m, 2) + math.Pow(-0.01-m, 2) + math.Pow(0.03-m, 2)
	want := m / math.Sqrt(ss/2)
	if math.Abs(*got-want) > 1e-9 {
		t.Errorf("SharpeRatio = %v, want %v", *got, want)
	}
}

func TestSortinoRatio(t *testing.T) {
	// No downside returns, positive mean: +Inf.
	got := SortinoRatio([]float64{0.01, 0.02, 0.03}, 0)
	if got == nil || !math.IsInf(*got, 1) {
		t.Errorf("SortinoRatio with no losses = %v, want +Inf", got)
	}

	// No downside returns, zero mean: nil.
	if got := SortinoRatio([]float64{0, 0}, 0); got != nil {
		t.Errorf("SortinoRatio with zero mean = %v, want nil", *got)
	}

	// Single downside return has zero sample stdev: nil.
	if got := SortinoRatio([]float64{0.05, -0.02}, 0); got != nil {
		t.Errorf("SortinoRatio with one loss = %v, want nil", *got)
	}

	// Two distinct downside returns produce a finite value.
	got = SortinoRatio([]float64{0.05, -0.02, -0.04}, 0)
	if got == nil || math.IsInf(*got, 0) {
		t.Errorf("SortinoRatio = %v, want finite value", got)
	}
}

func TestCalmarRatio(t *testing.T) {
	if got := CalmarRatio(0.5, 0); got != nil {
		t.Errorf("CalmarRatio with zero drawdown = %v, want nil", *got)
	}
	got := CalmarRatio(0.5, 0.25)
	if got == nil || math.Abs(*got-2.0) > 1e-9 {
		t.Errorf("CalmarRatio = %v, want 2.0", got)
	}
}

func TestOmegaRatio(t *testing.T) {
	if got := OmegaRatio(nil, 0); got != nil {
		t.Error("OmegaRatio with no returns should be nil")
	}

	got := OmegaRatio([]float64{0.02, 0.01}, 0)
	if got == nil || !math.IsInf(*got, 1) {
		t.Errorf("OmegaRatio with no losses = %v, want +Inf", got)
	}

	got = OmegaRatio([]float64{0.03, -0.01}, 0)
	if got == nil || math.Abs(*got-3.0) > 1e-9 {
		t.Errorf("OmegaRatio = %v, want 3.0", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	cases := []struct {
		name   string
		equity []float64
		want   float64
	}{
		{"empty", nil, 0},
		{"single point", []float64{100}, 0},
		{"monotone rise", []float64{100, 110, 120}, 0},
		{"simple dip", []float64{100, 80, 120}, 0.2},
		{"late deeper dip", []float64{100, 120, 90, 130, 65}, 0.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaxDrawdown(tc.equity); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("MaxDrawdown = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTradeReturnsCompound(t *testing.T) {
	returns := tradeReturns([]float64{100, -50}, 1000)
	if len(returns) != 2 {
		t.Fatalf("len(returns) = %d, want 2", len(returns))
	}
	if math.Abs(returns[0]-0.1) > 1e-9 {
		t.Errorf("returns[0] = %v, want 0.1", returns[0])
	}
	// Second return compounds against the updated balance of 1100.
	if math.Abs(returns[1]-(-50.0/1100.0)) > 1e-9 {
		t.Errorf("returns[1] = %v, want %v", returns[1], -50.0/1100.0)
	}
}
