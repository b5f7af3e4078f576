package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"verdict/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrTerminalRun is returned when updating a run already in a terminal
// state. Terminal runs are immutable.
var ErrTerminalRun = errors.New("store: run is terminal")

// Compile-time interface checks.
var _ ConfigStore = (*SQLiteStore)(nil)
var _ SignalStore = (*SQLiteStore)(nil)
var _ RunStore = (*SQLiteStore)(nil)
var _ TradeStore = (*SQLiteStore)(nil)
var _ MetricsStore = (*SQLiteStore)(nil)

// SQLiteStore implements the relational stores backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS arbitration_configs (
	id                 TEXT PRIMARY KEY,
	version            INTEGER NOT NULL UNIQUE,
	weight_rule        REAL NOT NULL,
	weight_ml          REAL NOT NULL,
	weight_llm         REAL NOT NULL,
	min_approval_score REAL NOT NULL,
	adaptive_threshold INTEGER NOT NULL DEFAULT 0,
	is_active          INTEGER NOT NULL DEFAULT 0,
	created_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
	id                        TEXT PRIMARY KEY,
	market                    TEXT NOT NULL,
	signal_type               TEXT NOT NULL,
	entry_price               REAL NOT NULL,
	stop_loss_price           REAL NOT NULL,
	profit_target_price       REAL NOT NULL,
	risk_unit_r               REAL NOT NULL,
	suggested_position_weight REAL NOT NULL,
	reward_risk_ratio         REAL NOT NULL,
	rule_score                REAL NOT NULL,
	ml_score                  REAL,
	sentiment_label           TEXT,
	final_score               REAL NOT NULL,
	decision                  TEXT NOT NULL,
	explanation               TEXT NOT NULL DEFAULT '',
	rejection_reason          TEXT NOT NULL DEFAULT '',
	config_version            INTEGER NOT NULL,
	created_at                TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_market ON signals(market, created_at);

CREATE TABLE IF NOT EXISTS backtest_runs (
	id              TEXT PRIMARY KEY,
	market          TEXT NOT NULL,
	interval        TEXT NOT NULL,
	start_date      TEXT NOT NULL,
	end_date        TEXT NOT NULL,
	initial_balance REAL NOT NULL,
	commission_rate REAL NOT NULL,
	slippage_rate   REAL NOT NULL,
	status          TEXT NOT NULL,
	progress        REAL NOT NULL DEFAULT 0,
	final_balance   REAL,
	error_message   TEXT,
	created_at      TEXT NOT NULL,
	started_at      TEXT,
	completed_at    TEXT
);

CREATE TABLE IF NOT EXISTS trades (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	position_id  TEXT NOT NULL,
	signal_id    TEXT NOT NULL,
	market       TEXT NOT NULL,
	trade_type   TEXT NOT NULL,
	quantity     REAL NOT NULL,
	price        REAL NOT NULL,
	timestamp    TEXT NOT NULL,
	commission   REAL NOT NULL,
	slippage     REAL NOT NULL,
	realized_pnl REAL,
	exit_reason  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id, timestamp);

CREATE TABLE IF NOT EXISTS performance_metrics (
	run_id           TEXT PRIMARY KEY,
	total_trades     INTEGER NOT NULL,
	winning_trades   INTEGER NOT NULL,
	losing_trades    INTEGER NOT NULL,
	win_rate         REAL NOT NULL,
	avg_win          REAL NOT NULL,
	avg_loss         REAL NOT NULL,
	profit_factor    REAL NOT NULL,
	max_drawdown     REAL NOT NULL,
	roi              REAL NOT NULL,
	sharpe_ratio     REAL,
	sortino_ratio    REAL,
	calmar_ratio     REAL,
	omega_ratio      REAL,
	total_commission REAL NOT NULL,
	total_slippage   REAL NOT NULL,
	created_at       TEXT NOT NULL
);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

// ---------------------------------------------------------------------------
// ConfigStore implementation
// ---------------------------------------------------------------------------

// SaveConfig inserts a new config version.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *domain.ArbitrationConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO arbitration_configs
			(id, version, weight_rule, weight_ml, weight_llm, min_approval_score,
			 adaptive_threshold, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cfg.ID.String(), cfg.Version, cfg.WeightRule, cfg.WeightML, cfg.WeightLLM,
		cfg.MinApprovalScore, cfg.AdaptiveThresholdEnabled, cfg.IsActive, fmtTime(cfg.CreatedAt))
	return err
}

func scanConfig(row interface{ Scan(...any) error }) (*domain.ArbitrationConfig, error) {
	var cfg domain.ArbitrationConfig
	var id, createdAt string
	err := row.Scan(&id, &cfg.Version, &cfg.WeightRule, &cfg.WeightML, &cfg.WeightLLM,
		&cfg.MinApprovalScore, &cfg.AdaptiveThresholdEnabled, &cfg.IsActive, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cfg.ID, _ = uuid.Parse(id)
	cfg.CreatedAt = parseTime(createdAt)
	return &cfg, nil
}

const configColumns = `id, version, weight_rule, weight_ml, weight_llm,
	min_approval_score, adaptive_threshold, is_active, created_at`

// ActiveConfig returns the currently active config version.
func (s *SQLiteStore) ActiveConfig(ctx context.Context) (*domain.ArbitrationConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM arbitration_configs WHERE is_active = 1`)
	return scanConfig(row)
}

// GetConfigVersion retrieves a specific config version.
func (s *SQLiteStore) GetConfigVersion(ctx context.Context, version int) (*domain.ArbitrationConfig, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+configColumns+` FROM arbitration_configs WHERE version = ?`, version)
	return scanConfig(row)
}

// ActivateVersion marks the given version active and deactivates all others
// atomically.
func (s *SQLiteStore) ActivateVersion(ctx context.Context, version int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE arbitration_configs SET is_active = 1 WHERE version = ?`, version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE arbitration_configs SET is_active = 0 WHERE version != ?`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// ListConfigs returns all config versions, newest first.
func (s *SQLiteStore) ListConfigs(ctx context.Context) ([]domain.ArbitrationConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+configColumns+` FROM arbitration_configs ORDER BY version DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []domain.ArbitrationConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

// NextConfigVersion returns the next unused version number.
func (s *SQLiteStore) NextConfigVersion(ctx context.Context) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM arbitration_configs`).Scan(&next)
	return next, err
}

// ---------------------------------------------------------------------------
// SignalStore implementation
// ---------------------------------------------------------------------------

// SaveSignal inserts a new signal.
func (s *SQLiteStore) SaveSignal(ctx context.Context, sig *domain.Signal) error {
	var mlScore any
	if sig.MLScore != nil {
		mlScore = *sig.MLScore
	}
	var sentiment any
	if sig.SentimentLabel != nil {
		sentiment = string(*sig.SentimentLabel)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signals
			(id, market, signal_type, entry_price, stop_loss_price, profit_target_price,
			 risk_unit_r, suggested_position_weight, reward_risk_ratio,
			 rule_score, ml_score, sentiment_label, final_score,
			 decision, explanation, rejection_reason, config_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID.String(), sig.Market, sig.SignalType, sig.EntryPrice, sig.StopLossPrice,
		sig.ProfitTargetPrice, sig.RiskUnitR, sig.SuggestedPositionWeight, sig.RewardRiskRatio,
		sig.RuleScore, mlScore, sentiment, sig.FinalScore,
		string(sig.Decision), sig.Explanation, sig.RejectionReason, sig.ConfigVersion,
		fmtTime(sig.CreatedAt))
	return err
}

const signalColumns = `id, market, signal_type, entry_price, stop_loss_price,
	profit_target_price, risk_unit_r, suggested_position_weight, reward_risk_ratio,
	rule_score, ml_score, sentiment_label, final_score,
	decision, explanation, rejection_reason, config_version, created_at`

func scanSignal(row interface{ Scan(...any) error }) (*domain.Signal, error) {
	var sig domain.Signal
	var id, decision, createdAt string
	var mlScore sql.NullFloat64
	var sentiment sql.NullString
	err := row.Scan(&id, &sig.Market, &sig.SignalType, &sig.EntryPrice, &sig.StopLossPrice,
		&sig.ProfitTargetPrice, &sig.RiskUnitR, &sig.SuggestedPositionWeight, &sig.RewardRiskRatio,
		&sig.RuleScore, &mlScore, &sentiment, &sig.FinalScore,
		&decision, &sig.Explanation, &sig.RejectionReason, &sig.ConfigVersion, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sig.ID, _ = uuid.Parse(id)
	sig.Decision = domain.Decision(decision)
	sig.CreatedAt = parseTime(createdAt)
	if mlScore.Valid {
		sig.MLScore = &mlScore.Float64
	}
	if sentiment.Valid {
		label := domain.SentimentLabel(sentiment.String)
		sig.SentimentLabel = &label
	}
	return &sig, nil
}

// GetSignal retrieves a single signal by its ID.
func (s *SQLiteStore) GetSignal(ctx context.Context, id uuid.UUID) (*domain.Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+signalColumns+` FROM signals WHERE id = ?`, id.String())
	return scanSignal(row)
}

// ListSignals returns the most recent signals for a market, up to limit.
func (s *SQLiteStore) ListSignals(ctx context.Context, market string, limit int) ([]domain.Signal, error) {
	query := `SELECT ` + signalColumns + ` FROM signals`
	args := []any{}
	if market != "" {
		query += ` WHERE market = ?`
		args = append(args, market)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		signals = append(signals, *sig)
	}
	return signals, rows.Err()
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts a new run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *domain.BacktestRun) error {
	var finalBalance any
	if run.FinalBalance != nil {
		finalBalance = *run.FinalBalance
	}
	var errMsg any
	if run.ErrorMessage != nil {
		errMsg = *run.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backtest_runs
			(id, market, interval, start_date, end_date, initial_balance,
			 commission_rate, slippage_rate, status, progress,
			 final_balance, error_message, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.Market, run.Interval, fmtTime(run.StartDate), fmtTime(run.EndDate),
		run.InitialBalance, run.CommissionRate, run.SlippageRate, string(run.Status), run.Progress,
		finalBalance, errMsg, fmtTime(run.CreatedAt),
		fmtTimePtr(run.StartedAt), fmtTimePtr(run.CompletedAt))
	return err
}

const runColumns = `id, market, interval, start_date, end_date, initial_balance,
	commission_rate, slippage_rate, status, progress,
	final_balance, error_message, created_at, started_at, completed_at`

func scanRun(row interface{ Scan(...any) error }) (*domain.BacktestRun, error) {
	var run domain.BacktestRun
	var id, status, startDate, endDate, createdAt string
	var finalBalance sql.NullFloat64
	var errMsg, startedAt, completedAt sql.NullString
	err := row.Scan(&id, &run.Market, &run.Interval, &startDate, &endDate, &run.InitialBalance,
		&run.CommissionRate, &run.SlippageRate, &status, &run.Progress,
		&finalBalance, &errMsg, &createdAt, &startedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	run.ID, _ = uuid.Parse(id)
	run.Status = domain.RunStatus(status)
	run.StartDate = parseTime(startDate)
	run.EndDate = parseTime(endDate)
	run.CreatedAt = parseTime(createdAt)
	if finalBalance.Valid {
		run.FinalBalance = &finalBalance.Float64
	}
	if errMsg.Valid {
		run.ErrorMessage = &errMsg.String
	}
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

// GetRun retrieves a single run by its ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*domain.BacktestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM backtest_runs WHERE id = ?`, id.String())
	return scanRun(row)
}

// UpdateRun persists the mutable fields of a run. The update is guarded so
// a run already in a terminal state is never modified.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.BacktestRun) error {
	var finalBalance any
	if run.FinalBalance != nil {
		finalBalance = *run.FinalBalance
	}
	var errMsg any
	if run.ErrorMessage != nil {
		errMsg = *run.ErrorMessage
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE backtest_runs
		SET status = ?, progress = ?, final_balance = ?, error_message = ?,
		    started_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`,
		string(run.Status), run.Progress, finalBalance, errMsg,
		fmtTimePtr(run.StartedAt), fmtTimePtr(run.CompletedAt),
		run.ID.String(), string(domain.RunCompleted), string(domain.RunFailed))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing run from an immutable terminal one.
		if _, err := s.GetRun(ctx, run.ID); err != nil {
			return err
		}
		return ErrTerminalRun
	}
	return nil
}

// ListRuns returns runs newest first, up to limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM backtest_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// SaveTrades appends ledger rows for a run in one transaction.
func (s *SQLiteStore) SaveTrades(ctx context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades
			(id, run_id, position_id, signal_id, market, trade_type,
			 quantity, price, timestamp, commission, slippage, realized_pnl, exit_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, tr := range trades {
		var pnl any
		if tr.RealizedPnL != nil {
			pnl = *tr.RealizedPnL
		}
		if _, err := stmt.ExecContext(ctx,
			tr.ID.String(), tr.RunID.String(), tr.PositionID.String(), tr.SignalID.String(),
			tr.Market, string(tr.Type), tr.Quantity, tr.Price, fmtTime(tr.Timestamp),
			tr.Commission, tr.Slippage, pnl, tr.ExitReason); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListTrades returns all ledger rows for a run in chronological order.
func (s *SQLiteStore) ListTrades(ctx context.Context, runID uuid.UUID) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, position_id, signal_id, market, trade_type,
		       quantity, price, timestamp, commission, slippage, realized_pnl, exit_reason
		FROM trades WHERE run_id = ? ORDER BY timestamp, trade_type`,
		runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var tr domain.Trade
		var id, rID, posID, sigID, tradeType, ts string
		var pnl sql.NullFloat64
		if err := rows.Scan(&id, &rID, &posID, &sigID, &tr.Market, &tradeType,
			&tr.Quantity, &tr.Price, &ts, &tr.Commission, &tr.Slippage, &pnl, &tr.ExitReason); err != nil {
			return nil, err
		}
		tr.ID, _ = uuid.Parse(id)
		tr.RunID, _ = uuid.Parse(rID)
		tr.PositionID, _ = uuid.Parse(posID)
		tr.SignalID, _ = uuid.Parse(sigID)
		tr.Type = domain.TradeType(tradeType)
		tr.Timestamp = parseTime(ts)
		if pnl.Valid {
			tr.RealizedPnL = &pnl.Float64
		}
		trades = append(trades, tr)
	}
	return trades, rows.Err()
}

// ---------------------------------------------------------------------------
// MetricsStore implementation
// ---------------------------------------------------------------------------

// SaveMetrics inserts or replaces the metrics row for a run.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m *domain.PerformanceMetrics) error {
	nullable := func(v *float64) any {
		if v == nil {
			return nil
		}
		return *v
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO performance_metrics
			(run_id, total_trades, winning_trades, losing_trades, win_rate,
			 avg_win, avg_loss, profit_factor, max_drawdown, roi,
			 sharpe_ratio, sortino_ratio, calmar_ratio, omega_ratio,
			 total_commission, total_slippage, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.RunID.String(), m.TotalTrades, m.WinningTrades, m.LosingTrades, m.WinRate,
		m.AvgWin, m.AvgLoss, m.ProfitFactor, m.MaxDrawdown, m.ROI,
		nullable(m.SharpeRatio), nullable(m.SortinoRatio), nullable(m.CalmarRatio), nullable(m.OmegaRatio),
		m.TotalCommission, m.TotalSlippage, fmtTime(m.CreatedAt))
	return err
}

// GetMetrics retrieves the metrics row for a run.
func (s *SQLiteStore) GetMetrics(ctx context.Context, runID uuid.UUID) (*domain.PerformanceMetrics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, total_trades, winning_trades, losing_trades, win_rate,
		       avg_win, avg_loss, profit_factor, max_drawdown, roi,
		       sharpe_ratio, sortino_ratio, calmar_ratio, omega_ratio,
		       total_commission, total_slippage, created_at
		FROM performance_metrics WHERE run_id = ?`, runID.String())

	var m domain.PerformanceMetrics
	var id, createdAt string
	var sharpe, sortino, calmar, omega sql.NullFloat64
	err := row.Scan(&id, &m.TotalTrades, &m.WinningTrades, &m.LosingTrades, &m.WinRate,
		&m.AvgWin, &m.AvgLoss, &m.ProfitFactor, &m.MaxDrawdown, &m.ROI,
		&sharpe, &sortino, &calmar, &omega,
		&m.TotalCommission, &m.TotalSlippage, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	m.RunID, _ = uuid.Parse(id)
	m.CreatedAt = parseTime(createdAt)
	if sharpe.Valid {
		m.SharpeRatio = &sharpe.Float64
	}
	if sortino.Valid {
		m.SortinoRatio = &sortino.Float64
	}
	if calmar.Valid {
		m.CalmarRatio = &calmar.Float64
	}
	if omega.Valid {
		m.OmegaRatio = &omega.Float64
	}
	return &m, nil
}
