// Package exchange defines the market data source the fetcher pages through and
// provides adapters for Binance and Coinbase.
//
// Adapters report failures as *errors.ClassifiedError so the retry policy can
// tell transient conditions (network, rate limits, 5xx) from fatal ones (bad
// symbols, rejected parameters, authentication).
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-history/internal/config"
	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"golang.org/x/time/rate"
)

// MarketDataSource fetches one page of candles.
type MarketDataSource interface {
	// Name identifies the source in logs and errors.
	Name() string

	// MaxPageLimit is the largest page the source will return.
	MaxPageLimit() int

	// FetchPage returns up to limit candles for symbol at resolution res whose
	// open time is at or after sinceMs, in ascending time order. An empty slice
	// means the source has nothing further.
	FetchPage(ctx context.Context, symbol string, res models.Resolution, sinceMs int64, limit int) ([]models.Candle, error)
}

// SourceOptions carries the settings shared by every adapter.
type SourceOptions struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RateLimit  float64 // requests per second
	Burst      int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

const (
	defaultRequestsPerSecond = 10
	defaultRequestTimeout    = 30 * time.Second
)

func (o SourceOptions) withDefaults() SourceOptions {
	if o.RateLimit <= 0 {
		o.RateLimit = defaultRequestsPerSecond
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultRequestTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout: o.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o SourceOptions) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(o.RateLimit), o.Burst)
}

// NewSource builds the adapter named by cfg.Type.
func NewSource(cfg config.SourceConfig, logger *slog.Logger) (MarketDataSource, error) {
	opts := SourceOptions{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Logger:    logger,
	}
	if cfg.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid source timeout %q: %w", cfg.Timeout, err)
		}
		opts.Timeout = timeout
	}

	switch strings.ToLower(cfg.Type) {
	case "binance":
		return NewBinanceSource(opts), nil
	case "coinbase":
		return NewCoinbaseSource(opts), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// clampLimit bounds limit to [1, max].
func clampLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if limit > max {
		return max
	}
	return limit
}

// waitForLimit blocks on the limiter. Cancellation is returned as is so the
// caller sees context.Canceled rather than a classified failure.
func waitForLimit(ctx context.Context, limiter *rate.Limiter, component string) error {
	if err := limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ohlcverr.New(ohlcverr.ErrorTypeTemporary, component, "wait_for_limit", err)
	}
	return nil
}

// splitSymbol separates "BTC/USDT", "BTC-USD", "btc_usd" into base and quote.
func splitSymbol(symbol string) (string, string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok && base != "" && quote != "" {
			return base, quote, true
		}
	}
	return s, "", false
}
