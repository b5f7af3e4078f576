package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"verdict/internal/arbiter"
	"verdict/internal/domain"
	"verdict/internal/provider"
)

type fixedML struct {
	score float64
	err   error
}

func (f fixedML) Score(context.Context, string, []domain.Bar) (float64, error) {
	return f.score, f.err
}

type fixedSentiment struct {
	sent domain.SentimentScore
	err  error
}

func (f fixedSentiment) Analyze(context.Context, string, []domain.Bar) (domain.SentimentScore, error) {
	return f.sent, f.err
}

func pipelineConfig(threshold float64) domain.ArbitrationConfig {
	return domain.ArbitrationConfig{
		ID:               uuid.New(),
		Version:          3,
		WeightRule:       0.55,
		WeightML:         0.15,
		WeightLLM:        0.30,
		MinApprovalScore: threshold,
		CreatedAt:        time.Now().UTC(),
	}
}

// trendingBars is an uptrend that satisfies pullback detection and scores
// well on the rule component.
func trendingBars(n int) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	c := 100.0
	for i := range bars {
		bars[i] = domain.Bar{
			Market:   "ETHUSDT",
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     c * 0.999, High: c * 1.004, Low: c * 0.996, Close: c, Volume: 10,
		}
		c *= 1.005
	}
	return bars
}

func newTestPipeline(ml provider.MLScorer, llm provider.SentimentAnalyzer) *Pipeline {
	return NewPipeline(
		NewGenerator(Params{
			MAPeriod:            20,
			PullbackTolerance:   0.02,
			ATRPeriod:           14,
			ATRMultiplierStop:   2.0,
			ATRMultiplierTarget: 3.0,
		}),
		provider.NewRuleScorer(1.5),
		ml, llm,
		arbiter.New(arbiter.PolicyNeutralFallback, arbiter.AdaptiveSettings{}),
	)
}

func TestPipelineApproves(t *testing.T) {
	p := newTestPipeline(
		fixedML{score: 90},
		fixedSentiment{sent: domain.SentimentScore{Label: domain.SentimentBullish, Confidence: 0.9}},
	)
	bars := trendingBars(40)

	out, err := p.Evaluate(context.Background(), "ETHUSDT", bars, pipelineConfig(60))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !out.Approved() {
		t.Fatalf("outcome not approved: %+v", out)
	}

	sig := out.Signal
	if sig.SignalType != SignalTypePullbackBuy {
		t.Errorf("signal type = %q", sig.SignalType)
	}
	if sig.EntryPrice != bars[len(bars)-1].Close {
		t.Errorf("entry price = %v, want latest close %v", sig.EntryPrice, bars[len(bars)-1].Close)
	}
	if sig.StopLossPrice >= sig.EntryPrice || sig.ProfitTargetPrice <= sig.EntryPrice {
		t.Errorf("level ordering violated: stop=%v entry=%v target=%v",
			sig.StopLossPrice, sig.EntryPrice, sig.ProfitTargetPrice)
	}
	if sig.MLScore == nil || *sig.MLScore != 90 {
		t.Errorf("ml score = %v, want 90", sig.MLScore)
	}
	if sig.SentimentLabel == nil || *sig.SentimentLabel != domain.SentimentBullish {
		t.Errorf("sentiment label = %v, want BULLISH", sig.SentimentLabel)
	}
	if sig.SuggestedPositionWeight < 0.3 || sig.SuggestedPositionWeight > 1.0 {
		t.Errorf("position weight %v outside [0.3, 1.0]", sig.SuggestedPositionWeight)
	}
	if sig.ConfigVersion != 3 {
		t.Errorf("config version = %d, want 3", sig.ConfigVersion)
	}
	if !sig.CreatedAt.Equal(bars[len(bars)-1].OpenTime) {
		t.Errorf("created_at = %v, want evaluation bar time", sig.CreatedAt)
	}
}

func TestPipelineRejectsBelowThreshold(t *testing.T) {
	p := newTestPipeline(fixedML{score: 10}, fixedSentiment{sent: domain.SentimentScore{Label: domain.SentimentBearish, Confidence: 1}})

	out, err := p.Evaluate(context.Background(), "ETHUSDT", trendingBars(40), pipelineConfig(95))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Approved() {
		t.Fatal("outcome approved, want rejection")
	}
	if out.Signal == nil || out.Signal.Decision != domain.DecisionRejected {
		t.Fatalf("rejected evaluation should still carry the signal: %+v", out)
	}
	if out.Reason == "" || out.Signal.RejectionReason == "" {
		t.Error("rejection carries no reason")
	}
	if out.Signal.SuggestedPositionWeight != 0 {
		t.Errorf("rejected signal suggests weight %v, want 0", out.Signal.SuggestedPositionWeight)
	}
}

func TestPipelineNoSetup(t *testing.T) {
	// Downtrend: close under the moving average, no pullback setup.
	bars := trendingBars(40)
	for i := range bars {
		bars[i].Close = 100 - float64(i)
		bars[i].Open = bars[i].Close + 1
		bars[i].High = bars[i].Close + 2
		bars[i].Low = bars[i].Close - 2
	}

	p := newTestPipeline(nil, nil)
	out, err := p.Evaluate(context.Background(), "ETHUSDT", bars, pipelineConfig(60))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Signal != nil {
		t.Fatalf("no-setup evaluation produced a signal: %+v", out.Signal)
	}
	if out.Reason == "" {
		t.Error("no-setup outcome carries no reason")
	}
}

func TestPipelineProviderFailureDegrades(t *testing.T) {
	p := newTestPipeline(
		fixedML{err: domain.ErrProviderUnavailable},
		fixedSentiment{err: domain.ErrProviderUnavailable},
	)

	out, err := p.Evaluate(context.Background(), "ETHUSDT", trendingBars(40), pipelineConfig(55))
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if out.Signal == nil {
		t.Fatal("provider failure suppressed the signal entirely")
	}
	if out.Signal.MLScore != nil || out.Signal.SentimentLabel != nil {
		t.Errorf("failed providers should leave components missing: %+v", out.Signal)
	}
}

func TestPipelineInvalidConfig(t *testing.T) {
	cfg := pipelineConfig(60)
	cfg.WeightML = 0.5

	p := newTestPipeline(nil, nil)
	if _, err := p.Evaluate(context.Background(), "ETHUSDT", trendingBars(40), cfg); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("Evaluate = %v, want ErrConfiguration", err)
	}
}
