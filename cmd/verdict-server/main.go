package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"verdict/internal/arbiter"
	"verdict/internal/backtest"
	"verdict/internal/config"
	"verdict/internal/datahub"
	"verdict/internal/domain"
	"verdict/internal/httpapi"
	"verdict/internal/provider"
	sig "verdict/internal/signal"
	"verdict/internal/store"
	"verdict/internal/util"
)

func main() {
	cfgPath := "config/verdict.yaml"
	if p := os.Getenv("VERDICT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	sql, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer sql.Close()

	if err := seedConfig(context.Background(), sql, cfg.Arbiter); err != nil {
		log.Fatalf("seeding arbitration config: %v", err)
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

	var ml provider.MLScorer
	if cfg.Providers.MLURL != "" {
		ml = provider.NewHTTPMLScorer(cfg.Providers.MLURL,
			time.Duration(cfg.Providers.TimeoutSeconds)*time.Second, cfg.Providers.MaxRetries)
	}
	var llm provider.SentimentAnalyzer
	if cfg.Providers.SentimentURL != "" {
		llm = provider.NewHTTPSentimentAnalyzer(cfg.Providers.SentimentURL,
			time.Duration(cfg.Providers.TimeoutSeconds)*time.Second, cfg.Providers.MaxRetries)
	}

	newPipeline := func() *sig.Pipeline {
		return sig.NewPipeline(
			sig.NewGenerator(sig.Params{
				MAPeriod:            cfg.Signal.MAPeriod,
				PullbackTolerance:   cfg.Signal.PullbackTolerance,
				ATRPeriod:           cfg.Signal.ATRPeriod,
				ATRMultiplierStop:   cfg.Signal.ATRMultiplierStop,
				ATRMultiplierTarget: cfg.Signal.ATRMultiplierTarget,
			}),
			provider.NewRuleScorer(cfg.Signal.VolumeIncreaseRatio),
			ml, llm,
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
	}

	hub := httpapi.NewHub()
	done := make(chan struct{})
	go hub.Run(done)
	defer close(done)

	runner := backtest.NewRunner(sql, sql, sql, sql, source,
		func() backtest.Evaluator { return newPipeline() },
		backtest.RunnerOptions{
			MaxConcurrentRuns: cfg.Backtest.MaxConcurrentRuns,
			MaxGapBars:        cfg.Datahub.MaxGapBars,
			Notify:            hub.PublishProgress,
		})
	defer runner.Shutdown()

	api := httpapi.NewServer(sql, sql, sql, sql, sql, source,
		newPipeline(), runner, hub, cfg.Signal, cfg.Backtest)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: api.Handler()}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("verdict-server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "err", err)
	}
}

// seedConfig writes the initial arbitration config version from the YAML
// settings when the database holds no active version yet.
func seedConfig(ctx context.Context, configs store.ConfigStore, ac config.ArbiterConfig) error {
	if _, err := configs.ActiveConfig(ctx); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	version, err := configs.NextConfigVersion(ctx)
	if err != nil {
		return err
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
	if err := seed.Validate(); err != nil {
		return err
	}
	if err := configs.SaveConfig(ctx, &seed); err != nil {
		return err
	}
	if err := configs.ActivateVersion(ctx, version); err != nil {
		return err
	}
	slog.Info("seeded arbitration config", "version", version)
	return nil
}
