package signal

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"verdict/internal/arbiter"
	"verdict/internal/domain"
	"verdict/internal/provider"
)

// Outcome is the result of one pipeline evaluation. Signal is nil when no
// entry setup was present; otherwise it carries the arbitrated signal,
// approved or rejected. Reason is set whenever the outcome is not an
// approval.
type Outcome struct {
	Signal *domain.Signal
	Reason string
}

// Approved reports whether the evaluation produced an approved signal.
func (o Outcome) Approved() bool {
	return o.Signal != nil && o.Signal.Decision == domain.DecisionApproved
}

// Pipeline runs the full signal path for one evaluation point: entry setup
// detection, component score collection, arbitration, and position sizing.
// Provider failures degrade to missing components and an absent setup
// degrades to a rejection; only an invalid config snapshot is an error.
type Pipeline struct {
	gen  *Generator
	rule *provider.RuleScorer
	ml   provider.MLScorer
	llm  provider.SentimentAnalyzer
	arb  *arbiter.Arbiter
	log  *slog.Logger
}

// NewPipeline assembles a Pipeline. The ML and sentiment providers may be
// nil, in which case those components are always missing.
func NewPipeline(gen *Generator, rule *provider.RuleScorer, ml provider.MLScorer, llm provider.SentimentAnalyzer, arb *arbiter.Arbiter) *Pipeline {
	return &Pipeline{
		gen:  gen,
		rule: rule,
		ml:   ml,
		llm:  llm,
		arb:  arb,
		log:  slog.Default().With("component", "pipeline"),
	}
}

// Evaluate runs the pipeline over the trailing bars ending at the
// evaluation point, under the given config snapshot. The snapshot is
// captured once by the caller; concurrent config activations never affect
// an in-flight evaluation.
func (p *Pipeline) Evaluate(ctx context.Context, market string, bars []domain.Bar, cfg domain.ArbitrationConfig) (Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return Outcome{}, err
	}

	plan := p.gen.Evaluate(bars)
	if plan == nil {
		return Outcome{Reason: "no entry setup detected"}, nil
	}

	scores := provider.Collect(ctx, p.rule, p.ml, p.llm, market, bars)

	res, err := p.arb.Arbitrate(scores, cfg)
	if err != nil {
		return Outcome{}, err
	}

	var asOf time.Time
	if len(bars) > 0 {
		asOf = bars[len(bars)-1].OpenTime
	}

	var label *domain.SentimentLabel
	if scores.Sentiment != nil {
		l := scores.Sentiment.Label
		label = &l
	}

	// A rejected signal carries no position weight.
	weight := 0.0
	if res.Decision == domain.DecisionApproved {
		weight = PositionWeight(res.FinalScore)
	}

	sig := &domain.Signal{
		ID:                      uuid.New(),
		Market:                  market,
		SignalType:              plan.SignalType,
		EntryPrice:              plan.EntryPrice,
		StopLossPrice:           plan.StopLossPrice,
		ProfitTargetPrice:       plan.ProfitTargetPrice,
		RiskUnitR:               plan.RiskUnitR,
		SuggestedPositionWeight: weight,
		RewardRiskRatio:         plan.RewardRiskRatio,
		RuleScore:               scores.RuleScore,
		MLScore:                 scores.MLScore,
		SentimentLabel:          label,
		FinalScore:              res.FinalScore,
		Decision:                res.Decision,
		Explanation:             res.Explanation,
		RejectionReason:         res.RejectionReason,
		ConfigVersion:           cfg.Version,
		CreatedAt:               asOf,
	}

	p.log.Debug("pipeline evaluated",
		"market", market,
		"decision", sig.Decision,
		"final_score", sig.FinalScore,
	)

	return Outcome{Signal: sig, Reason: res.RejectionReason}, nil
}
