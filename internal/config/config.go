package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the verdict platform.
type Config struct {
	Storage   Storage         `yaml:"storage"`
	Server    Server          `yaml:"server"`
	Alpaca    Alpaca          `yaml:"alpaca"`
	Logging   Logging         `yaml:"logging"`
	Arbiter   ArbiterConfig   `yaml:"arbiter"`
	Signal    SignalConfig    `yaml:"signal"`
	Backtest  BacktestConfig  `yaml:"backtest"`
	Providers ProvidersConfig `yaml:"providers"`
	Datahub   DatahubConfig   `yaml:"datahub"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API,
// used as the historical crypto bar source.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArbiterConfig seeds the initial arbitration config version and the
// adaptive-threshold tunables.
type ArbiterConfig struct {
	WeightRule         float64 `yaml:"weight_rule"`
	WeightML           float64 `yaml:"weight_ml"`
	WeightLLM          float64 `yaml:"weight_llm"`
	MinApprovalScore   float64 `yaml:"min_approval_score"`
	AdaptiveThreshold  bool    `yaml:"adaptive_threshold"`
	AdaptiveWindow     int     `yaml:"adaptive_window"`
	AdaptiveGain       float64 `yaml:"adaptive_gain"`
	AdaptiveTargetRate float64 `yaml:"adaptive_target_rate"`
	AdaptiveMaxAdjust  float64 `yaml:"adaptive_max_adjust"`
	MissingScorePolicy string  `yaml:"missing_score_policy"` // "neutral" or "redistribute"
}

// SignalConfig holds entry-strategy parameters.
type SignalConfig struct {
	MAPeriod            int     `yaml:"ma_period"`
	PullbackTolerance   float64 `yaml:"pullback_tolerance"`
	ATRPeriod           int     `yaml:"atr_period"`
	ATRMultiplierStop   float64 `yaml:"atr_multiplier_stop"`
	ATRMultiplierTarget float64 `yaml:"atr_multiplier_target"`
	VolumeIncreaseRatio float64 `yaml:"volume_increase_ratio"`
	LookbackBars        int     `yaml:"lookback_bars"`
	DefaultInterval     string  `yaml:"default_interval"`
}

// BacktestConfig holds simulation cost and execution parameters.
type BacktestConfig struct {
	CommissionRate    float64 `yaml:"commission_rate"`
	SlippageRate      float64 `yaml:"slippage_rate"`
	MaxConcurrentRuns int     `yaml:"max_concurrent_runs"`
}

// ProvidersConfig holds endpoints and timeouts for the external ML and
// sentiment score providers. Empty URLs leave a provider unconfigured; the
// arbiter then applies the neutral fallback.
type ProvidersConfig struct {
	MLURL          string `yaml:"ml_url"`
	SentimentURL   string `yaml:"sentiment_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// DatahubConfig controls historical bar fetching.
type DatahubConfig struct {
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	MaxRetries      int `yaml:"max_retries"`
	MaxGapBars      int `yaml:"max_gap_bars"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies environment variable overrides, and fills
// defaults for unset fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MIN_APPROVAL_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Arbiter.MinApprovalScore = f
		}
	}

	// Canonical Alpaca env vars take priority over the plain names.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// applyDefaults fills zero-valued tunables with the platform defaults.
func applyDefaults(cfg *Config) {
	if cfg.Arbiter.WeightRule == 0 && cfg.Arbiter.WeightML == 0 && cfg.Arbiter.WeightLLM == 0 {
		cfg.Arbiter.WeightRule = 0.55
		cfg.Arbiter.WeightML = 0.15
		cfg.Arbiter.WeightLLM = 0.30
	}
	if cfg.Arbiter.MinApprovalScore == 0 {
		cfg.Arbiter.MinApprovalScore = 70.0
	}
	if cfg.Arbiter.AdaptiveWindow == 0 {
		cfg.Arbiter.AdaptiveWindow = 50
	}
	if cfg.Arbiter.AdaptiveGain == 0 {
		cfg.Arbiter.AdaptiveGain = 20.0
	}
	if cfg.Arbiter.AdaptiveTargetRate == 0 {
		cfg.Arbiter.AdaptiveTargetRate = 0.3
	}
	if cfg.Arbiter.AdaptiveMaxAdjust == 0 {
		cfg.Arbiter.AdaptiveMaxAdjust = 10.0
	}
	if cfg.Arbiter.MissingScorePolicy == "" {
		cfg.Arbiter.MissingScorePolicy = "neutral"
	}

	if cfg.Signal.MAPeriod == 0 {
		cfg.Signal.MAPeriod = 20
	}
	if cfg.Signal.PullbackTolerance == 0 {
		cfg.Signal.PullbackTolerance = 0.02
	}
	if cfg.Signal.ATRPeriod == 0 {
		cfg.Signal.ATRPeriod = 14
	}
	if cfg.Signal.ATRMultiplierStop == 0 {
		cfg.Signal.ATRMultiplierStop = 2.0
	}
	if cfg.Signal.ATRMultiplierTarget == 0 {
		cfg.Signal.ATRMultiplierTarget = 3.0
	}
	if cfg.Signal.VolumeIncreaseRatio == 0 {
		cfg.Signal.VolumeIncreaseRatio = 1.5
	}
	if cfg.Signal.LookbackBars == 0 {
		cfg.Signal.LookbackBars = 120
	}
	if cfg.Signal.DefaultInterval == "" {
		cfg.Signal.DefaultInterval = "1h"
	}

	if cfg.Backtest.CommissionRate == 0 {
		cfg.Backtest.CommissionRate = 0.001
	}
	if cfg.Backtest.SlippageRate == 0 {
		cfg.Backtest.SlippageRate = 0.0005
	}
	if cfg.Backtest.MaxConcurrentRuns == 0 {
		cfg.Backtest.MaxConcurrentRuns = 4
	}

	if cfg.Providers.TimeoutSeconds == 0 {
		cfg.Providers.TimeoutSeconds = 10
	}
	if cfg.Providers.MaxRetries == 0 {
		cfg.Providers.MaxRetries = 2
	}

	if cfg.Datahub.RateLimitPerMin == 0 {
		cfg.Datahub.RateLimitPerMin = 200
	}
	if cfg.Datahub.MaxRetries == 0 {
		cfg.Datahub.MaxRetries = 3
	}
	if cfg.Datahub.MaxGapBars == 0 {
		cfg.Datahub.MaxGapBars = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
