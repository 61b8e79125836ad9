package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"golang.org/x/time/rate"
)

const (
	binanceComponent = "binance"

	// Spot klines return at most 1000 rows per request
	binanceMaxKlines = 1000
)

// binanceIntervals maps resolution names to kline intervals.
var binanceIntervals = map[string]string{
	"1m":  "1m",
	"3m":  "3m",
	"5m":  "5m",
	"15m": "15m",
	"30m": "30m",
	"1h":  "1h",
	"2h":  "2h",
	"4h":  "4h",
	"6h":  "6h",
	"8h":  "8h",
	"12h": "12h",
	"1d":  "1d",
}

// BinanceSource reads spot klines through the go-binance client.
type BinanceSource struct {
	client      *binance.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewBinanceSource creates a Binance spot source.
func NewBinanceSource(opts SourceOptions) *BinanceSource {
	opts = opts.withDefaults()

	client := binance.NewClient(opts.APIKey, opts.APISecret)
	if opts.BaseURL != "" {
		client.BaseURL = opts.BaseURL
	}
	client.HTTPClient = opts.HTTPClient

	return &BinanceSource{
		client:      client,
		rateLimiter: opts.limiter(),
		logger:      opts.Logger.With("component", binanceComponent),
	}
}

func (b *BinanceSource) Name() string { return binanceComponent }

func (b *BinanceSource) MaxPageLimit() int { return binanceMaxKlines }

// FetchPage implements MarketDataSource.
func (b *BinanceSource) FetchPage(ctx context.Context, symbol string, res models.Resolution, sinceMs int64, limit int) ([]models.Candle, error) {
	interval, ok := binanceIntervals[res.Name]
	if !ok {
		return nil, ohlcverr.New(ohlcverr.ErrorTypeBadRequest, binanceComponent, "fetch_page",
			fmt.Errorf("unsupported resolution: %s", res))
	}

	if err := waitForLimit(ctx, b.rateLimiter, binanceComponent); err != nil {
		return nil, err
	}

	pair := BinanceSymbol(symbol)
	limit = clampLimit(limit, binanceMaxKlines)

	b.logger.Debug("fetching klines",
		"symbol", pair,
		"interval", interval,
		"since", sinceMs,
		"limit", limit)

	klines, err := b.client.NewKlinesService().
		Symbol(pair).
		Interval(interval).
		StartTime(sinceMs).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, classifyBinanceError(err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, kl := range klines {
		if kl == nil {
			continue
		}
		candle, err := models.NewCandleFromStrings(kl.OpenTime, kl.Open, kl.High, kl.Low, kl.Close, kl.Volume)
		if err != nil {
			return nil, ohlcverr.New(ohlcverr.ErrorTypeValidation, binanceComponent, "fetch_page", err)
		}
		candles = append(candles, candle)
	}

	return candles, nil
}

// BinanceSymbol converts "BTC/USDT" or "btc-usdt" to "BTCUSDT".
func BinanceSymbol(symbol string) string {
	base, quote, _ := splitSymbol(symbol)
	return base + quote
}

// classifyBinanceError maps API error codes onto error kinds. Transport
// failures fall back to generic classification.
func classifyBinanceError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return ohlcverr.New(ohlcverr.Classify(err).Type, binanceComponent, "fetch_page", err)
	}

	var errorType ohlcverr.ErrorType
	switch code := apiErr.Code; {
	case code == -1003 || code == -1015:
		errorType = ohlcverr.ErrorTypeRateLimit
	case code == -1007:
		errorType = ohlcverr.ErrorTypeTimeout
	case code == -1000 || code == -1001 || code == -1006 || code == -1008:
		errorType = ohlcverr.ErrorTypeTemporary
	case code == -1002 || code == -1022 || code == -2014 || code == -2015:
		errorType = ohlcverr.ErrorTypeAuthentication
	case code == -1121:
		errorType = ohlcverr.ErrorTypeNotFound
	case code <= -1100 && code > -1200:
		errorType = ohlcverr.ErrorTypeBadRequest
	case code == 0:
		// body was not an API error document, typically a proxy or 5xx page
		errorType = ohlcverr.ErrorTypeServerError
	default:
		errorType = ohlcverr.ErrorTypeUnknown
	}

	return ohlcverr.New(errorType, binanceComponent, "fetch_page", err)
}
