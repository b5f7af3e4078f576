package domain

import (
	"errors"
	"testing"
	"time"
)

func TestZeroValues(t *testing.T) {
	// Verify Bar can be instantiated with zero values.
	bar := Bar{}
	if bar.Market != "" {
		t.Error("expected empty Market for zero-value Bar")
	}
	if !bar.OpenTime.IsZero() {
		t.Error("expected zero OpenTime for zero-value Bar")
	}
	if bar.Open != 0 || bar.High != 0 || bar.Low != 0 || bar.Close != 0 || bar.Volume != 0 {
		t.Error("expected zero OHLCV values for zero-value Bar")
	}

	// Verify ScoreSet optional components default to absent.
	scores := ScoreSet{}
	if scores.MLScore != nil {
		t.Error("expected nil MLScore for zero-value ScoreSet")
	}
	if scores.Sentiment != nil {
		t.Error("expected nil Sentiment for zero-value ScoreSet")
	}

	// Verify enum constants.
	if DecisionApproved != "APPROVED" || DecisionRejected != "REJECTED" {
		t.Errorf("unexpected Decision constants: %q, %q", DecisionApproved, DecisionRejected)
	}
	if SentimentBullish != "BULLISH" || SentimentBearish != "BEARISH" || SentimentNeutral != "NEUTRAL" {
		t.Error("unexpected SentimentLabel constants")
	}
	if TradeEntry != "ENTRY" || TradeExit != "EXIT" {
		t.Error("unexpected TradeType constants")
	}
}

func TestRunStatusTerminal(t *testing.T) {
	cases := []struct {
		status   RunStatus
		terminal bool
	}{
		{RunPending, false},
		{RunRunning, false},
		{RunCompleted, true},
		{RunFailed, true},
	}
	for _, c := range cases {
		if got := c.status.Terminal(); got != c.terminal {
			t.Errorf("%s.Terminal() = %v, want %v", c.status, got, c.terminal)
		}
	}
}

func TestArbitrationConfigValidate(t *testing.T) {
	valid := ArbitrationConfig{
		Version:          1,
		WeightRule:       0.5,
		WeightML:         0.3,
		WeightLLM:        0.2,
		MinApprovalScore: 70,
		CreatedAt:        time.Now(),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() on valid config returned %v", err)
	}

	// Weights within tolerance of 1.0 are accepted.
	near := valid
	near.WeightRule = 0.5 + 5e-7
	if err := near.Validate(); err != nil {
		t.Errorf("Validate() rejected weights within tolerance: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ArbitrationConfig)
	}{
		{"weights sum below 1", func(c *ArbitrationConfig) { c.WeightLLM = 0.1 }},
		{"weights sum above 1", func(c *ArbitrationConfig) { c.WeightRule = 0.7 }},
		{"negative weight", func(c *ArbitrationConfig) { c.WeightRule = 1.3; c.WeightML = -0.5 }},
		{"threshold below range", func(c *ArbitrationConfig) { c.MinApprovalScore = -1 }},
		{"threshold above range", func(c *ArbitrationConfig) { c.MinApprovalScore = 101 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want configuration error")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Validate() error = %v, want ErrConfiguration", err)
			}
		})
	}
}
