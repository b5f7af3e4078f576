// Package verdict provides a Go client for the verdict-server API.
package verdict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a running verdict-server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the given base URL, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Backtest is a backtest run as reported by the server.
type Backtest struct {
	ID             string   `json:"id"`
	Market         string   `json:"market"`
	Interval       string   `json:"interval"`
	StartDate      string   `json:"startDate"`
	EndDate        string   `json:"endDate"`
	InitialBalance float64  `json:"initialBalance"`
	Status         string   `json:"status"`
	Progress       float64  `json:"progress"`
	FinalBalance   *float64 `json:"finalBalance,omitempty"`
	ErrorMessage   *string  `json:"errorMessage,omitempty"`
}

// BacktestRequest describes a run to create.
type BacktestRequest struct {
	Market         string  `json:"market"`
	Interval       string  `json:"interval,omitempty"`
	StartDate      string  `json:"startDate"`
	EndDate        string  `json:"endDate"`
	InitialBalance float64 `json:"initialBalance"`
	CommissionRate float64 `json:"commissionRate,omitempty"`
	SlippageRate   float64 `json:"slippageRate,omitempty"`
}

// Ratio is a metric ratio that the server may report as infinite using
// the string sentinels "inf" and "-inf", for example the profit factor
// of a run with no losing trades.
type Ratio float64

// IsInf reports whether the ratio is infinite.
func (r Ratio) IsInf() bool { return math.IsInf(float64(r), 0) }

func (r Ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	}
	return json.Marshal(f)
}

func (r *Ratio) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"inf"`:
		*r = Ratio(math.Inf(1))
		return nil
	case `"-inf"`:
		*r = Ratio(math.Inf(-1))
		return nil
	case "null":
		*r = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*r = Ratio(f)
	return nil
}

// Metrics is the performance metrics row for a completed run. Ratio
// fields are nil when the server reports them as degenerate.
type Metrics struct {
	RunID           string  `json:"runId"`
	TotalTrades     int     `json:"totalTrades"`
	WinRate         float64 `json:"winRate"`
	ProfitFactor    Ratio   `json:"profitFactor"`
	MaxDrawdown     float64 `json:"maxDrawdown"`
	ROI             float64 `json:"roi"`
	SharpeRatio     *Ratio  `json:"sharpeRatio"`
	SortinoRatio    *Ratio  `json:"sortinoRatio"`
	CalmarRatio     *Ratio  `json:"calmarRatio"`
	OmegaRatio      *Ratio  `json:"omegaRatio"`
	TotalCommission float64 `json:"totalCommission"`
	TotalSlippage   float64 `json:"totalSlippage"`
}

// Trade is one ledger row of a run.
type Trade struct {
	ID          string   `json:"id"`
	PositionID  string   `json:"positionId"`
	TradeType   string   `json:"tradeType"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	Timestamp   string   `json:"timestamp"`
	Commission  float64  `json:"commission"`
	Slippage    float64  `json:"slippage"`
	RealizedPnL *float64 `json:"realizedPnl,omitempty"`
	ExitReason  string   `json:"exitReason,omitempty"`
}

// Signal is an arbitrated signal.
type Signal struct {
	ID                      string   `json:"id"`
	Market                  string   `json:"market"`
	SignalType              string   `json:"signalType"`
	EntryPrice              float64  `json:"entryPrice"`
	StopLossPrice           float64  `json:"stopLossPrice"`
	ProfitTargetPrice       float64  `json:"profitTargetPrice"`
	SuggestedPositionWeight float64  `json:"suggestedPositionWeight"`
	RuleScore               float64  `json:"ruleScore"`
	MLScore                 *float64 `json:"mlScore,omitempty"`
	FinalScore              float64  `json:"finalScore"`
	Decision                string   `json:"decision"`
	Explanation             string   `json:"explanation"`
}

// SignalOutcome is the tagged result of an on-demand evaluation.
type SignalOutcome struct {
	Decision string  `json:"decision"`
	Reason   string  `json:"reason,omitempty"`
	Signal   *Signal `json:"signal,omitempty"`
}

// CreateBacktest schedules a new run and returns it in PENDING state.
func (c *Client) CreateBacktest(ctx context.Context, req BacktestRequest) (*Backtest, error) {
	var run Backtest
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetBacktest fetches a run by ID.
func (c *Client) GetBacktest(ctx context.Context, id string) (*Backtest, error) {
	var run Backtest
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListBacktests returns the most recent runs, up to limit.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]Backtest, error) {
	path := "/api/v1/backtests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var runs []Backtest
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// CancelBacktest requests cancellation of an in-flight run.
func (c *Client) CancelBacktest(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/backtests/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// GetMetrics fetches the performance metrics of a completed run.
func (c *Client) GetMetrics(ctx context.Context, runID string) (*Metrics, error) {
	var m Metrics
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(runID)+"/metrics", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetTrades fetches the trade ledger of a run.
func (c *Client) GetTrades(ctx context.Context, runID string) ([]Trade, error) {
	var trades []Trade
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(runID)+"/trades", nil, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GenerateSignal runs an on-demand evaluation for a market. A rejection
// is a normal outcome, not an error.
func (c *Client) GenerateSignal(ctx context.Context, market, interval string) (*SignalOutcome, error) {
	body := map[string]string{"market": market}
	if interval != "" {
		body["interval"] = interval
	}
	var out SignalOutcome
	if err := c.do(ctx, http.MethodPost, "/api/v1/signals/generate", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues one JSON request. Non-2xx responses surface the server's
// error message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if derr := json.NewDecoder(resp.Body).Decode(&apiErr); derr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
