package verdict

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("httpClient not initialized")
	}
}

func TestCreateBacktest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/backtests" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Market != "BTCUSDT" || req.InitialBalance != 100000 {
			t.Errorf("request body = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Backtest{
			ID:             "3f1c9c1e-0000-0000-0000-000000000001",
			Market:         req.Market,
			Interval:       "1h",
			StartDate:      req.StartDate,
			EndDate:        req.EndDate,
			InitialBalance: req.InitialBalance,
			Status:         "PENDING",
		})
	}))
	defer srv.Close()

	run, err := NewClient(srv.URL).CreateBacktest(context.Background(), BacktestRequest{
		Market:         "BTCUSDT",
		StartDate:      "2024-01-01",
		EndDate:        "2024-01-31",
		InitialBalance: 100000,
	})
	if err != nil {
		t.Fatalf("CreateBacktest: %v", err)
	}
	if run.Status != "PENDING" {
		t.Errorf("status = %q, want PENDING", run.Status)
	}
	if run.Market != "BTCUSDT" {
		t.Errorf("market = %q", run.Market)
	}
}

func TestGetBacktestAndMetrics(t *testing.T) {
	final := 104867.5
	sharpe := Ratio(1.8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/backtests/abc":
			json.NewEncoder(w).Encode(Backtest{
				ID: "abc", Market: "ETHUSDT", Status: "COMPLETED",
				Progress: 1, FinalBalance: &final,
			})
		case "/api/v1/backtests/abc/metrics":
			json.NewEncoder(w).Encode(Metrics{
				RunID: "abc", TotalTrades: 4, WinRate: 0.5,
				ROI: 0.048675, ProfitFactor: Ratio(math.Inf(1)),
				SharpeRatio: &sharpe,
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	run, err := c.GetBacktest(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetBacktest: %v", err)
	}
	if run.FinalBalance == nil || *run.FinalBalance != final {
		t.Errorf("final balance = %v", run.FinalBalance)
	}

	m, err := c.GetMetrics(context.Background(), "abc")
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	if m.TotalTrades != 4 {
		t.Errorf("total trades = %d", m.TotalTrades)
	}
	if m.SharpeRatio == nil || *m.SharpeRatio != sharpe {
		t.Errorf("sharpe = %v", m.SharpeRatio)
	}
	if !m.ProfitFactor.IsInf() {
		t.Errorf("profit factor = %v, want the inf sentinel decoded", m.ProfitFactor)
	}
	if m.SortinoRatio != nil {
		t.Errorf("sortino should be nil, got %v", *m.SortinoRatio)
	}
}

func TestRatioSentinelRoundTrip(t *testing.T) {
	raw := []byte(`{"profitFactor":"inf","sharpeRatio":null,"sortinoRatio":"-inf","roi":0.05}`)
	var m Metrics
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !math.IsInf(float64(m.ProfitFactor), 1) {
		t.Errorf("profit factor = %v", m.ProfitFactor)
	}
	if m.SortinoRatio == nil || !math.IsInf(float64(*m.SortinoRatio), -1) {
		t.Errorf("sortino = %v", m.SortinoRatio)
	}
	if m.SharpeRatio != nil {
		t.Errorf("sharpe = %v, want nil", m.SharpeRatio)
	}

	out, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(out), `"profitFactor":"inf"`) {
		t.Errorf("marshal lost the sentinel: %s", out)
	}
}

func TestListBacktestsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Backtest{{ID: "a"}, {ID: "b"}})
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListBacktests(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListBacktests: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}

func TestGenerateSignalRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/signals/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(SignalOutcome{
			Decision: "REJECTED",
			Reason:   "no entry setup detected",
		})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).GenerateSignal(context.Background(), "BTCUSDT", "1h")
	if err != nil {
		t.Fatalf("GenerateSignal: %v", err)
	}
	if out.Decision != "REJECTED" {
		t.Errorf("decision = %q", out.Decision)
	}
	if out.Signal != nil {
		t.Error("rejection without setup should carry no signal")
	}
	if !strings.Contains(out.Reason, "no entry setup") {
		t.Errorf("reason = %q", out.Reason)
	}
}

func TestServerErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "run not found"})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetBacktest(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	if !strings.Contains(err.Error(), "run not found") {
		t.Errorf("error = %v, want server message surfaced", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error = %v, want status code included", err)
	}
}

func TestCancelBacktest(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/cancel") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := NewClient(srv.URL).CancelBacktest(context.Background(), "abc"); err != nil {
		t.Fatalf("CancelBacktest: %v", err)
	}
	if !called {
		t.Error("cancel endpoint never hit")
	}
}
