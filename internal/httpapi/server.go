package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"verdict/internal/backtest"
	"verdict/internal/config"
	"verdict/internal/datahub"
	"verdict/internal/domain"
	"verdict/internal/signal"
	"verdict/internal/store"
)

// Server serves the verdict REST API.
type Server struct {
	configs store.ConfigStore
	signals store.SignalStore
	runs    store.RunStore
	trades  store.TradeStore
	metrics store.MetricsStore
	source  datahub.BarSource
	pipe    *signal.Pipeline
	runner  *backtest.Runner
	hub     *Hub
	sigCfg  config.SignalConfig
	btCfg   config.BacktestConfig
	log     *slog.Logger
}

// NewServer creates the API server around its collaborators. hub may be
// nil when WebSocket push is not wanted (tests).
func NewServer(
	configs store.ConfigStore,
	signals store.SignalStore,
	runs store.RunStore,
	trades store.TradeStore,
	metrics store.MetricsStore,
	source datahub.BarSource,
	pipe *signal.Pipeline,
	runner *backtest.Runner,
	hub *Hub,
	sigCfg config.SignalConfig,
	btCfg config.BacktestConfig,
) *Server {
	return &Server{
		configs: configs,
		signals: signals,
		runs:    runs,
		trades:  trades,
		metrics: metrics,
		source:  source,
		pipe:    pipe,
		runner:  runner,
		hub:     hub,
		sigCfg:  sigCfg,
		btCfg:   btCfg,
		log:     slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/backtests", s.handleCreateRun)
	mux.HandleFunc("GET /api/v1/backtests", s.handleListRuns)
	mux.HandleFunc("GET /api/v1/backtests/{id}", s.handleGetRun)
	mux.HandleFunc("POST /api/v1/backtests/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /api/v1/backtests/{id}/trades", s.handleRunTrades)
	mux.HandleFunc("GET /api/v1/backtests/{id}/metrics", s.handleRunMetrics)
	mux.HandleFunc("GET /api/v1/backtests/{id}/report", s.handleRunReport)

	mux.HandleFunc("GET /api/v1/configs", s.handleListConfigs)
	mux.HandleFunc("POST /api/v1/configs", s.handleCreateConfig)
	mux.HandleFunc("GET /api/v1/configs/active", s.handleActiveConfig)
	mux.HandleFunc("POST /api/v1/configs/{version}/activate", s.handleActivateConfig)

	mux.HandleFunc("POST /api/v1/signals/generate", s.handleGenerateSignal)
	mux.HandleFunc("GET /api/v1/signals", s.handleListSignals)
	mux.HandleFunc("GET /api/v1/signals/{id}", s.handleGetSignal)

	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeStoreError maps domain and store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConfiguration):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrTerminalRun):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue("id"))
}

func parseLimit(r *http.Request, fallback int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// ---------------------------------------------------------------------------
// Backtest runs
// ---------------------------------------------------------------------------

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Market == "" {
		writeError(w, http.StatusBadRequest, "market required")
		return
	}
	if req.Interval == "" {
		req.Interval = s.sigCfg.DefaultInterval
	}
	if _, err := datahub.IntervalDuration(req.Interval); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid startDate, want YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid endDate, want YYYY-MM-DD")
		return
	}
	// The range is inclusive of the end date's bars.
	end = end.Add(24*time.Hour - time.Second)
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "endDate must be after startDate")
		return
	}
	if req.InitialBalance <= 0 {
		writeError(w, http.StatusBadRequest, "initialBalance must be positive")
		return
	}
	if req.CommissionRate == 0 {
		req.CommissionRate = s.btCfg.CommissionRate
	}
	if req.SlippageRate == 0 {
		req.SlippageRate = s.btCfg.SlippageRate
	}

	run := domain.BacktestRun{
		ID:             uuid.New(),
		Market:         req.Market,
		Interval:       req.Interval,
		StartDate:      start.UTC(),
		EndDate:        end.UTC(),
		InitialBalance: req.InitialBalance,
		CommissionRate: req.CommissionRate,
		SlippageRate:   req.SlippageRate,
		Status:         domain.RunPending,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.runs.SaveRun(r.Context(), &run); err != nil {
		writeStoreError(w, err)
		return
	}
	s.runner.Launch(run)

	s.log.Info("run created", "run_id", run.ID.String(), "market", run.Market)
	writeJSON(w, http.StatusCreated, convertRun(run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.runs.ListRuns(r.Context(), parseLimit(r, 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, convertRun(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertRun(*run))
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	if s.runner.Cancel(id) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
		return
	}

	// Not in flight: distinguish unknown runs from already-settled ones.
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeError(w, http.StatusConflict, fmt.Sprintf("run is %s", run.Status))
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	trades, err := s.trades.ListTrades(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]TradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, convertTrade(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	m, err := s.metrics.GetMetrics(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertMetrics(*m))
}

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return
	}
	run, err := s.runs.GetRun(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	m, err := s.metrics.GetMetrics(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	trades, err := s.trades.ListTrades(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, backtest.Report(*run, *m, trades))
}

// ---------------------------------------------------------------------------
// Arbitration configs
// ---------------------------------------------------------------------------

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.configs.ListConfigs(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]ConfigJSON, 0, len(cfgs))
	for _, c := range cfgs {
		out = append(out, convertConfig(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.configs.ActiveConfig(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertConfig(*cfg))
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req CreateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	version, err := s.configs.NextConfigVersion(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	cfg := domain.ArbitrationConfig{
		ID:                       uuid.New(),
		Version:                  version,
		WeightRule:               req.WeightRule,
		WeightML:                 req.WeightML,
		WeightLLM:                req.WeightLLM,
		MinApprovalScore:         req.MinApprovalScore,
		AdaptiveThresholdEnabled: req.AdaptiveThresholdEnabled,
		CreatedAt:                time.Now().UTC(),
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.configs.SaveConfig(r.Context(), &cfg); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Activate {
		if err := s.configs.ActivateVersion(r.Context(), cfg.Version); err != nil {
			writeStoreError(w, err)
			return
		}
		cfg.IsActive = true
	}

	s.log.Info("config created", "version", cfg.Version, "active", cfg.IsActive)
	writeJSON(w, http.StatusCreated, convertConfig(cfg))
}

func (s *Server) handleActivateConfig(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	if err := s.configs.ActivateVersion(r.Context(), version); err != nil {
		writeStoreError(w, err)
		return
	}
	cfg, err := s.configs.GetConfigVersion(r.Context(), version)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("config activated", "version", version)
	writeJSON(w, http.StatusOK, convertConfig(*cfg))
}

// ---------------------------------------------------------------------------
// Signals
// ---------------------------------------------------------------------------

func (s *Server) handleGenerateSignal(w http.ResponseWriter, r *http.Request) {
	var req GenerateSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Market == "" {
		writeError(w, http.StatusBadRequest, "market required")
		return
	}
	if req.Interval == "" {
		req.Interval = s.sigCfg.DefaultInterval
	}
	step, err := datahub.IntervalDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cfg, err := s.configs.ActiveConfig(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(s.sigCfg.LookbackBars) * step)
	bars, err := s.source.Bars(r.Context(), req.Market, req.Interval, start, end)
	if err != nil {
		if errors.Is(err, domain.ErrDataUnavailable) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out, err := s.pipe.Evaluate(r.Context(), req.Market, bars, *cfg)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := GenerateSignalResponse{Decision: string(domain.DecisionRejected), Reason: out.Reason}
	if out.Signal != nil {
		if err := s.signals.SaveSignal(r.Context(), out.Signal); err != nil {
			writeStoreError(w, err)
			return
		}
		sj := convertSignal(*out.Signal)
		resp.Decision = string(out.Signal.Decision)
		resp.Signal = &sj
	}

	s.log.Info("signal generated",
		"market", req.Market,
		"decision", resp.Decision,
	)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	market := r.URL.Query().Get("market")
	sigs, err := s.signals.ListSignals(r.Context(), market, parseLimit(r, 50))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]SignalJSON, 0, len(sigs))
	for _, sig := range sigs {
		out = append(out, convertSignal(sig))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid signal id")
		return
	}
	sig, err := s.signals.GetSignal(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertSignal(*sig))
}
