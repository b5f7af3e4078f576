// Package arbiter fuses component scores into a final trading decision.
//
// The arbiter combines the rule, ML, and sentiment scores under the weights
// of an immutable ArbitrationConfig snapshot, compares the fused score with
// the (optionally adaptive) approval threshold, and reports directional
// agreement between the components. Missing component scores never cause a
// failure; they are substituted according to the configured policy. Only an
// invalid config is an error.
package arbiter

import (
	"fmt"
	"log/slog"

	"verdict/internal/domain"
)

// MissingScorePolicy selects how absent ML or sentiment scores enter the
// fusion.
type MissingScorePolicy string

const (
	// PolicyNeutralFallback substitutes 50.0 for a missing component,
	// pulling the fused score toward neutral. This is the default.
	PolicyNeutralFallback MissingScorePolicy = "neutral"

	// PolicyRedistribute removes a missing component and redistributes its
	// weight across the available components in proportion to their own
	// weights.
	PolicyRedistribute MissingScorePolicy = "redistribute"
)

// NeutralScore is the fallback value substituted for missing components
// under PolicyNeutralFallback.
const NeutralScore = 50.0

// AdaptiveSettings tunes the adaptive approval threshold. The correction is
// gain·(rollingApprovalRate − targetRate), clamped to ±maxAdjust, so the
// effective threshold is bounded and monotone non-decreasing in the rolling
// approval rate.
type AdaptiveSettings struct {
	Window     int
	Gain       float64
	TargetRate float64
	MaxAdjust  float64
}

// Breakdown records the per-component contribution to one fused score.
type Breakdown struct {
	RuleScore  float64
	RuleWeight float64
	MLScore    *float64
	MLWeight   float64
	LLMScore   *float64
	LLMWeight  float64
	FinalScore float64
}

// AgreementRecord captures, for each pair of available components, whether
// both scores fall on the same side of 50. A nil entry means at least one
// component of the pair was unavailable.
type AgreementRecord struct {
	RuleML  *bool
	RuleLLM *bool
	MLLLM   *bool
}

// Result is the outcome of one arbitration call.
type Result struct {
	FinalScore         float64
	Decision           domain.Decision
	EffectiveThreshold float64
	Agreement          AgreementRecord
	Breakdown          Breakdown
	Explanation        string
	RejectionReason    string // empty when approved
}

// Arbiter evaluates score sets against arbitration config snapshots.
// Arbitrate is safe for concurrent use; the only mutable state is the
// rolling approval window behind its own lock.
type Arbiter struct {
	policy   MissingScorePolicy
	adaptive AdaptiveSettings
	window   *ApprovalWindow
	log      *slog.Logger
}

// New creates an Arbiter with the given missing-score policy and adaptive
// threshold settings.
func New(policy MissingScorePolicy, adaptive AdaptiveSettings) *Arbiter {
	if adaptive.Window <= 0 {
		adaptive.Window = 50
	}
	return &Arbiter{
		policy:   policy,
		adaptive: adaptive,
		window:   NewApprovalWindow(adaptive.Window),
		log:      slog.Default().With("component", "arbiter"),
	}
}

// SentimentToScore maps a categorical sentiment with confidence in [0, 1]
// onto the 0–100 scale: BULLISH → 50+50·c, BEARISH → 50−50·c, NEUTRAL → 50.
// Confidence is clamped to [0, 1] and unknown labels map to neutral.
func SentimentToScore(s domain.SentimentScore) float64 {
	c := clamp(s.Confidence, 0, 1)
	switch s.Label {
	case domain.SentimentBullish:
		return 50 + 50*c
	case domain.SentimentBearish:
		return 50 - 50*c
	default:
		return NeutralScore
	}
}

// Arbitrate fuses the score set under the given config snapshot and returns
// the final score, decision, and agreement record. The config is validated
// first; an invalid config is a configuration error surfaced to the caller,
// never corrected. Missing component scores are handled by the configured
// policy and never cause an error.
func (a *Arbiter) Arbitrate(scores domain.ScoreSet, cfg domain.ArbitrationConfig) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	rule := clamp(scores.RuleScore, 0, 100)

	var ml *float64
	if scores.MLScore != nil {
		v := clamp(*scores.MLScore, 0, 100)
		ml = &v
	}

	var llm *float64
	if scores.Sentiment != nil {
		v := SentimentToScore(*scores.Sentiment)
		llm = &v
	}

	breakdown := a.fuse(rule, ml, llm, cfg)
	final := clamp(breakdown.FinalScore, 0, 100)
	breakdown.FinalScore = final

	threshold := a.effectiveThreshold(cfg)

	res := Result{
		FinalScore:         final,
		EffectiveThreshold: threshold,
		Agreement:          agreement(rule, ml, llm),
		Breakdown:          breakdown,
	}

	if final >= threshold {
		res.Decision = domain.DecisionApproved
		res.Explanation = explain("APPROVED: strong consensus", breakdown)
	} else {
		res.Decision = domain.DecisionRejected
		res.Explanation = explain("REJECTED: weak consensus", breakdown)
		res.RejectionReason = fmt.Sprintf("weighted score %.2f below threshold %.2f", final, threshold)
	}

	a.window.Record(res.Decision == domain.DecisionApproved)

	a.log.Debug("arbitrated",
		"final_score", final,
		"threshold", threshold,
		"decision", res.Decision,
		"config_version", cfg.Version,
	)

	return res, nil
}

// fuse computes the weighted score under the configured missing-score
// policy.
func (a *Arbiter) fuse(rule float64, ml, llm *float64, cfg domain.ArbitrationConfig) Breakdown {
	wRule, wML, wLLM := cfg.WeightRule, cfg.WeightML, cfg.WeightLLM

	b := Breakdown{
		RuleScore: rule,
		MLScore:   ml,
		LLMScore:  llm,
	}

	switch a.policy {
	case PolicyRedistribute:
		// Remove missing components and scale the remaining weights so
		// they still sum to 1, each in proportion to its own weight.
		present := wRule
		if ml != nil {
			present += wML
		}
		if llm != nil {
			present += wLLM
		}
		scale := 1.0
		if present > 0 {
			scale = 1.0 / present
		}

		b.RuleWeight = wRule * scale
		b.FinalScore = rule * b.RuleWeight
		if ml != nil {
			b.MLWeight = wML * scale
			b.FinalScore += *ml * b.MLWeight
		}
		if llm != nil {
			b.LLMWeight = wLLM * scale
			b.FinalScore += *llm * b.LLMWeight
		}

	default: // PolicyNeutralFallback
		mlVal, llmVal := NeutralScore, NeutralScore
		if ml != nil {
			mlVal = *ml
		}
		if llm != nil {
			llmVal = *llm
		}
		b.RuleWeight = wRule
		b.MLWeight = wML
		b.LLMWeight = wLLM
		b.FinalScore = rule*wRule + mlVal*wML + llmVal*wLLM
	}

	return b
}

// effectiveThreshold returns the approval threshold for this evaluation.
// With adaptive thresholding disabled the configured value is used as-is.
func (a *Arbiter) effectiveThreshold(cfg domain.ArbitrationConfig) float64 {
	base := cfg.MinApprovalScore
	if !cfg.AdaptiveThresholdEnabled {
		return base
	}

	rate, ok := a.window.Rate()
	if !ok {
		return base
	}

	adjust := clamp(a.adaptive.Gain*(rate-a.adaptive.TargetRate), -a.adaptive.MaxAdjust, a.adaptive.MaxAdjust)
	return clamp(base+adjust, 0, 100)
}

// agreement records, per pair of available components, whether both scores
// fall strictly on the same side of 50. A score of exactly 50 is neutral
// and agrees with nothing.
func agreement(rule float64, ml, llm *float64) AgreementRecord {
	var rec AgreementRecord
	if ml != nil {
		rec.RuleML = boolPtr(sameSide(rule, *ml))
	}
	if llm != nil {
		rec.RuleLLM = boolPtr(sameSide(rule, *llm))
	}
	if ml != nil && llm != nil {
		rec.MLLLM = boolPtr(sameSide(*ml, *llm))
	}
	return rec
}

func sameSide(a, b float64) bool {
	return (a-50)*(b-50) > 0
}

func explain(verdict string, b Breakdown) string {
	mlPart := "ML=n/a"
	if b.MLScore != nil {
		mlPart = fmt.Sprintf("ML=%.1f", *b.MLScore)
	}
	llmPart := "LLM=n/a"
	if b.LLMScore != nil {
		llmPart = fmt.Sprintf("LLM=%.1f", *b.LLMScore)
	}
	return fmt.Sprintf("%s. Rule=%.1f, %s, %s -> Final=%.2f",
		verdict, b.RuleScore, mlPart, llmPart, b.FinalScore)
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func boolPtr(v bool) *bool { return &v }
