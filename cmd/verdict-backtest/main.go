package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"verdict/internal/arbiter"
	"verdict/internal/backtest"
	"verdict/internal/config"
	"verdict/internal/datahub"
	"verdict/internal/domain"
	"verdict/internal/metrics"
	"verdict/internal/provider"
	sig "verdict/internal/signal"
	"verdict/internal/store"
	"verdict/internal/util"
)

func main() {
	var (
		market   = flag.String("market", "BTCUSDT", "market to replay")
		interval = flag.String("interval", "1h", "bar interval")
		startStr = flag.String("start", "", "start date (YYYY-MM-DD)")
		endStr   = flag.String("end", "", "end date (YYYY-MM-DD, inclusive)")
		balance  = flag.Float64("balance", 100000, "initial balance")
	)
	flag.Parse()

	if *startStr == "" || *endStr == "" {
		flag.Usage()
		os.Exit(1)
	}
	start, err := time.Parse("2006-01-02", *startStr)
	if err != nil {
		log.Fatalf("invalid -start: %v", err)
	}
	end, err := time.Parse("2006-01-02", *endStr)
	if err != nil {
		log.Fatalf("invalid -end: %v", err)
	}
	end = end.Add(24*time.Hour - time.Second)

	cfgPath := "config/verdict.yaml"
	if p := os.Getenv("VERDICT_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	slog.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	sql, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sql.Close()

	ctx := context.Background()
	snapshot, err := activeOrSeeded(ctx, sql, cfg.Arbiter)
	if err != nil {
		log.Fatalf("arbitration config: %v", err)
	}

	barCache := store.NewParquetStore(cfg.Storage.DataDir)
	upstream := datahub.NewAlpacaSource(
		cfg.Alpaca.APIKey,
		cfg.Alpaca.APISecret,
		cfg.Alpaca.DataURL,
		cfg.Datahub.RateLimitPerMin,
		cfg.Datahub.MaxRetries,
	)
	source := datahub.NewCachedSource(upstream, barCache)

	bars, err := source.Bars(ctx, *market, *interval, start.UTC(), end.UTC())
	if err != nil {
		log.Fatalf("fetching bars: %v", err)
	}
	if err := datahub.Validate(bars, *interval, cfg.Datahub.MaxGapBars); err != nil {
		log.Fatalf("bar series unusable: %v", err)
	}

	run := domain.BacktestRun{
		ID:             uuid.New(),
		Market:         *market,
		Interval:       *interval,
		StartDate:      start.UTC(),
		EndDate:        end.UTC(),
		InitialBalance: *balance,
		CommissionRate: cfg.Backtest.CommissionRate,
		SlippageRate:   cfg.Backtest.SlippageRate,
		Status:         domain.RunRunning,
		CreatedAt:      time.Now().UTC(),
	}

	pipe := sig.NewPipeline(
		sig.NewGenerator(sig.Params{
			MAPeriod:            cfg.Signal.MAPeriod,
			PullbackTolerance:   cfg.Signal.PullbackTolerance,
			ATRPeriod:           cfg.Signal.ATRPeriod,
			ATRMultiplierStop:   cfg.Signal.ATRMultiplierStop,
			ATRMultiplierTarget: cfg.Signal.ATRMultiplierTarget,
		}),
		provider.NewRuleScorer(cfg.Signal.VolumeIncreaseRatio),
		nil, nil,
		arbiter.New(
			arbiter.MissingScorePolicy(cfg.Arbiter.MissingScorePolicy),
			arbiter.AdaptiveSettings{
				Window:     cfg.Arbiter.AdaptiveWindow,
				Gain:       cfg.Arbiter.AdaptiveGain,
				TargetRate: cfg.Arbiter.AdaptiveTargetRate,
				MaxAdjust:  cfg.Arbiter.AdaptiveMaxAdjust,
			},
		),
	)

	lastPct := -1
	engine := backtest.NewEngine(run, pipe, *snapshot, func(p float64) {
		if pct := int(p * 10); pct > lastPct {
			lastPct = pct
			fmt.Fprintf(os.Stderr, "replay %d%%\n", pct*10)
		}
	})

	res, err := engine.Run(ctx, bars)
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	m := metrics.Calculate(run.ID, res.Trades, res.EquityCurve, run.InitialBalance, res.FinalBalance)

	run.Status = domain.RunCompleted
	run.Progress = 1
	run.FinalBalance = &res.FinalBalance
	now := time.Now().UTC()
	run.CompletedAt = &now

	fmt.Print(backtest.Report(run, m, res.Trades))
}

// activeOrSeeded returns the active arbitration config, seeding one from
// the YAML settings when the database has none.
func activeOrSeeded(ctx context.Context, configs store.ConfigStore, ac config.ArbiterConfig) (*domain.ArbitrationConfig, error) {
	cfg, err := configs.ActiveConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	version, verr := configs.NextConfigVersion(ctx)
	if verr != nil {
		return nil, verr
	}
	seed := domain.ArbitrationConfig{
		ID:                       uuid.New(),
		Version:                  version,
		WeightRule:               ac.WeightRule,
		WeightML:                 ac.WeightML,
		WeightLLM:                ac.WeightLLM,
		MinApprovalScore:         ac.MinApprovalScore,
		AdaptiveThresholdEnabled: ac.AdaptiveThreshold,
		CreatedAt:                time.Now().UTC(),
	}
	if verr := seed.Validate(); verr != nil {
		return nil, verr
	}
	if verr := configs.SaveConfig(ctx, &seed); verr != nil {
		return nil, verr
	}
	if verr := configs.ActivateVersion(ctx, version); verr != nil {
		return nil, verr
	}
	seed.IsActive = true
	return &seed, nil
}
