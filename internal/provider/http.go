package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"verdict/internal/domain"
	"verdict/internal/util"
)

// barPayload is the wire form of a bar sent to score providers.
type barPayload struct {
	OpenTime time.Time `json:"open_time"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
}

func toPayload(bars []domain.Bar) []barPayload {
	out := make([]barPayload, len(bars))
	for i, b := range bars {
		out[i] = barPayload{
			OpenTime: b.OpenTime,
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// ML score client
// ---------------------------------------------------------------------------

// HTTPMLScorer fetches ML confidence scores from an external model service.
type HTTPMLScorer struct {
	baseURL    string
	client     *http.Client
	maxRetries int
}

var _ MLScorer = (*HTTPMLScorer)(nil)

// NewHTTPMLScorer creates a client for the ML score service at baseURL.
func NewHTTPMLScorer(baseURL string, timeout time.Duration, maxRetries int) *HTTPMLScorer {
	return &HTTPMLScorer{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// Score requests a 0-100 confidence score for the market. Transport and
// server failures wrap ErrProviderUnavailable after retries are exhausted.
func (s *HTTPMLScorer) Score(ctx context.Context, market string, bars []domain.Bar) (float64, error) {
	reqBody, err := json.Marshal(struct {
		Market string       `json:"market"`
		Bars   []barPayload `json:"bars"`
	}{Market: market, Bars: toPayload(bars)})
	if err != nil {
		return 0, err
	}

	var score float64
	err = util.Retry(ctx, s.maxRetries+1, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/score", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ml service status %d", resp.StatusCode)
		}

		var out struct {
			Score float64 `json:"score"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		score = out.Score
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: ml scorer: %v", domain.ErrProviderUnavailable, err)
	}
	return score, nil
}

// ---------------------------------------------------------------------------
// Sentiment client
// ---------------------------------------------------------------------------

// HTTPSentimentAnalyzer fetches LLM sentiment labels from an external
// analysis service.
type HTTPSentimentAnalyzer struct {
	baseURL    string
	client     *http.Client
	maxRetries int
}

var _ SentimentAnalyzer = (*HTTPSentimentAnalyzer)(nil)

// NewHTTPSentimentAnalyzer creates a client for the sentiment service at
// baseURL.
func NewHTTPSentimentAnalyzer(baseURL string, timeout time.Duration, maxRetries int) *HTTPSentimentAnalyzer {
	return &HTTPSentimentAnalyzer{
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
	}
}

// Analyze requests a sentiment label and confidence for the market.
// Transport and server failures wrap ErrProviderUnavailable after retries
// are exhausted; so does an unrecognized label.
func (s *HTTPSentimentAnalyzer) Analyze(ctx context.Context, market string, bars []domain.Bar) (domain.SentimentScore, error) {
	reqBody, err := json.Marshal(struct {
		Market string       `json:"market"`
		Bars   []barPayload `json:"bars"`
	}{Market: market, Bars: toPayload(bars)})
	if err != nil {
		return domain.SentimentScore{}, err
	}

	var out struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	err = util.Retry(ctx, s.maxRetries+1, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sentiment", bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("sentiment service status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&out)
	})
	if err != nil {
		return domain.SentimentScore{}, fmt.Errorf("%w: sentiment analyzer: %v", domain.ErrProviderUnavailable, err)
	}

	label := domain.SentimentLabel(out.Sentiment)
	switch label {
	case domain.SentimentBullish, domain.SentimentBearish, domain.SentimentNeutral:
	default:
		return domain.SentimentScore{}, fmt.Errorf("%w: sentiment analyzer: unknown label %q", domain.ErrProviderUnavailable, out.Sentiment)
	}

	return domain.SentimentScore{Label: label, Confidence: out.Confidence}, nil
}
