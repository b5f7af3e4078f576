package backtest

import (
	"fmt"
	"strings"
	"time"

	"verdict/internal/domain"
)

// Report renders a completed run as a human-readable text summary with the
// trade ledger appended.
func Report(run domain.BacktestRun, m domain.PerformanceMetrics, trades []domain.Trade) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Backtest %s\n", run.ID)
	fmt.Fprintf(&b, "Market:          %s (%s)\n", run.Market, run.Interval)
	fmt.Fprintf(&b, "Period:          %s to %s\n",
		run.StartDate.Format("2006-01-02"), run.EndDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Status:          %s\n", run.Status)
	if run.ErrorMessage != nil {
		fmt.Fprintf(&b, "Error:           %s\n", *run.ErrorMessage)
	}

	fmt.Fprintf(&b, "\nInitial balance: %.2f\n", run.InitialBalance)
	if run.FinalBalance != nil {
		fmt.Fprintf(&b, "Final balance:   %.2f\n", *run.FinalBalance)
	}
	fmt.Fprintf(&b, "ROI:             %.2f%%\n", m.ROI*100)
	fmt.Fprintf(&b, "Max drawdown:    %.2f%%\n", m.MaxDrawdown*100)

	fmt.Fprintf(&b, "\nRound trips:     %d (%d won, %d lost)\n",
		m.TotalTrades, m.WinningTrades, m.LosingTrades)
	fmt.Fprintf(&b, "Win rate:        %.2f%%\n", m.WinRate*100)
	fmt.Fprintf(&b, "Avg win/loss:    %.2f / %.2f\n", m.AvgWin, m.AvgLoss)
	fmt.Fprintf(&b, "Profit factor:   %s\n", fmtFloat(m.ProfitFactor))
	fmt.Fprintf(&b, "Sharpe:          %s\n", fmtRatio(m.SharpeRatio))
	fmt.Fprintf(&b, "Sortino:         %s\n", fmtRatio(m.SortinoRatio))
	fmt.Fprintf(&b, "Calmar:          %s\n", fmtRatio(m.CalmarRatio))
	fmt.Fprintf(&b, "Omega:           %s\n", fmtRatio(m.OmegaRatio))
	fmt.Fprintf(&b, "Commission paid: %.2f\n", m.TotalCommission)
	fmt.Fprintf(&b, "Slippage paid:   %.2f\n", m.TotalSlippage)

	if len(trades) > 0 {
		fmt.Fprintf(&b, "\n%-25s %-6s %12s %12s %12s %s\n",
			"timestamp", "type", "quantity", "price", "pnl", "reason")
		for _, t := range trades {
			pnl := ""
			if t.RealizedPnL != nil {
				pnl = fmt.Sprintf("%.2f", *t.RealizedPnL)
			}
			fmt.Fprintf(&b, "%-25s %-6s %12.6f %12.2f %12s %s\n",
				t.Timestamp.Format(time.RFC3339), t.Type, t.Quantity, t.Price, pnl, t.ExitReason)
		}
	}

	return b.String()
}

// fmtRatio renders a nilable ratio, using n/a for the degenerate case.
func fmtRatio(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmtFloat(*v)
}

func fmtFloat(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
