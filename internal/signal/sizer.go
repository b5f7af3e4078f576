package signal

// Position sizing maps a 0-100 final score onto a suggested position weight
// via a continuous, strictly increasing piecewise-linear curve. The anchor
// points keep the confidence bands intact (a score of 85 or more always
// suggests at least 0.8) while removing any jump between adjacent bands.
var sizingAnchors = []struct {
	score  float64
	weight float64
}{
	{0, 0.30},
	{70, 0.50},
	{85, 0.80},
	{100, 1.00},
}

// PositionWeight returns the suggested position weight for a final score.
// Scores outside [0, 100] are clamped before interpolation, so the result
// is always within [0.30, 1.00].
func PositionWeight(score float64) float64 {
	if score <= sizingAnchors[0].score {
		return sizingAnchors[0].weight
	}
	last := sizingAnchors[len(sizingAnchors)-1]
	if score >= last.score {
		return last.weight
	}
	for i := 1; i < len(sizingAnchors); i++ {
		hi := sizingAnchors[i]
		if score > hi.score {
			continue
		}
		lo := sizingAnchors[i-1]
		ratio := (score - lo.score) / (hi.score - lo.score)
		return lo.weight + ratio*(hi.weight-lo.weight)
	}
	return last.weight
}
