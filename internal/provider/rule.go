package provider

import (
	"verdict/internal/domain"
)

// Rule scoring weights. The three components sum to 100.
const (
	ruleMAPoints       = 40.0
	ruleVolumePoints   = 30.0
	ruleMomentumPoints = 30.0

	ruleWindow           = 20
	ruleMomentumLookback = 5
)

// RuleScorer computes the deterministic trend score from a bar window:
// 40 points when the close is above the 20-bar moving average, 30 when
// recent volume exceeds the older average by the configured ratio, and up
// to 30 for positive short-term price momentum.
type RuleScorer struct {
	volumeIncreaseRatio float64
}

// NewRuleScorer creates a RuleScorer. A non-positive ratio falls back to
// the default of 1.5.
func NewRuleScorer(volumeIncreaseRatio float64) *RuleScorer {
	if volumeIncreaseRatio <= 0 {
		volumeIncreaseRatio = 1.5
	}
	return &RuleScorer{volumeIncreaseRatio: volumeIncreaseRatio}
}

// Score returns the trend score in [0, 100] for the trailing bars. Fewer
// than 20 bars score zero.
func (r *RuleScorer) Score(bars []domain.Bar) float64 {
	if len(bars) < ruleWindow {
		return 0
	}
	recent := bars[len(bars)-ruleWindow:]

	score := 0.0

	// MA trend: close above the 20-bar average.
	sum := 0.0
	for _, b := range recent {
		sum += b.Close
	}
	ma := sum / float64(len(recent))
	latest := recent[len(recent)-1]
	if latest.Close > ma {
		score += ruleMAPoints
	}

	// Volume expansion: recent 5-bar average versus the older average.
	olderSum, recentSum := 0.0, 0.0
	split := len(recent) - ruleMomentumLookback
	for i, b := range recent {
		if i < split {
			olderSum += b.Volume
		} else {
			recentSum += b.Volume
		}
	}
	olderAvg := olderSum / float64(split)
	recentAvg := recentSum / float64(ruleMomentumLookback)
	if recentAvg > olderAvg*r.volumeIncreaseRatio {
		score += ruleVolumePoints
	}

	// Momentum: positive 5-bar price change, scaled.
	ref := recent[len(recent)-ruleMomentumLookback].Close
	if ref > 0 {
		change := (latest.Close - ref) / ref
		if change > 0 {
			momentum := change * 1000
			if momentum > ruleMomentumPoints {
				momentum = ruleMomentumPoints
			}
			score += momentum
		}
	}

	return score
}
