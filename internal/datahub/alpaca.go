package datahub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"verdict/internal/domain"
	"verdict/internal/util"
)

// Compile-time interface check.
var _ BarSource = (*AlpacaSource)(nil)

// AlpacaSource fetches historical crypto bars from the Alpaca market-data
// API.
type AlpacaSource struct {
	client     *marketdata.Client
	limiter    *util.RateLimiter
	maxRetries int
	log        *slog.Logger
}

// NewAlpacaSource creates an AlpacaSource with the given credentials and
// per-minute rate limit.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, rateLimitPerMin, maxRetries int) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{
		client:     marketdata.NewClient(opts),
		limiter:    util.NewRateLimiter(rateLimitPerMin, 5),
		maxRetries: maxRetries,
		log:        slog.Default().With("component", "datahub-alpaca"),
	}
}

// Bars fetches crypto bars for [start, end]. The result is normalized and
// wraps ErrDataUnavailable when the API returns nothing for the range.
func (s *AlpacaSource) Bars(ctx context.Context, market, interval string, start, end time.Time) ([]domain.Bar, error) {
	tf, err := parseTimeFrame(interval)
	if err != nil {
		return nil, err
	}
	symbol := cryptoSymbol(market)

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var raw []marketdata.CryptoBar
	err = util.Retry(ctx, s.maxRetries+1, time.Second, func() error {
		var ferr error
		raw, ferr = s.client.GetCryptoBars(symbol, marketdata.GetCryptoBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
		})
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("fetching %s %s bars: %w", market, interval, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no %s bars for %s in [%s, %s]", domain.ErrDataUnavailable,
			interval, market, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, b := range raw {
		bars = append(bars, domain.Bar{
			Market:   market,
			OpenTime: b.Timestamp.UTC(),
			Open:     b.Open,
			High:     b.High,
			Low:      b.Low,
			Close:    b.Close,
			Volume:   b.Volume,
		})
	}
	bars = Normalize(bars)

	s.log.Debug("fetched bars", "market", market, "interval", interval, "count", len(bars))
	return bars, nil
}

// parseTimeFrame maps an interval string onto an Alpaca time frame.
func parseTimeFrame(interval string) (marketdata.TimeFrame, error) {
	switch strings.ToLower(interval) {
	case "1m":
		return marketdata.OneMin, nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "1h":
		return marketdata.OneHour, nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported interval %q", interval)
}

// cryptoSymbol converts a market identifier like BTCUSDT into the slash
// pair form the Alpaca crypto API expects. Tether-quoted markets map onto
// their USD pair.
func cryptoSymbol(market string) string {
	m := strings.ToUpper(market)
	if strings.Contains(m, "/") {
		return m
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if base, ok := strings.CutSuffix(m, quote); ok && base != "" {
			return base + "/USD"
		}
	}
	return m
}
