// Package provider supplies the component scores that feed arbitration:
// the rule score computed locally from bars, and the ML confidence and
// LLM sentiment scores fetched from external services. External providers
// are optional; when one is unreachable the pipeline records the component
// as missing and the arbiter applies its fallback policy.
package provider

import (
	"context"

	"verdict/internal/domain"
)

// MLScorer produces a 0-100 confidence score for a market at an evaluation
// point. Implementations wrap ErrProviderUnavailable when the backing
// service cannot be reached.
type MLScorer interface {
	Score(ctx context.Context, market string, bars []domain.Bar) (float64, error)
}

// SentimentAnalyzer produces a categorical sentiment with confidence for a
// market at an evaluation point.
type SentimentAnalyzer interface {
	Analyze(ctx context.Context, market string, bars []domain.Bar) (domain.SentimentScore, error)
}

// Collect gathers the component scores for one evaluation. The rule score
// is always present; ML and sentiment are nil when the corresponding
// provider is unconfigured or failed. Provider failures are swallowed here
// because a missing component is an expected state, not a pipeline error.
func Collect(ctx context.Context, rule *RuleScorer, ml MLScorer, llm SentimentAnalyzer, market string, bars []domain.Bar) domain.ScoreSet {
	set := domain.ScoreSet{RuleScore: rule.Score(bars)}

	if ml != nil {
		if score, err := ml.Score(ctx, market, bars); err == nil {
			set.MLScore = &score
		}
	}
	if llm != nil {
		if sent, err := llm.Analyze(ctx, market, bars); err == nil {
			set.Sentiment = &sent
		}
	}
	return set
}
