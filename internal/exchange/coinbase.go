package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"golang.org/x/time/rate"
)

const (
	coinbaseComponent = "coinbase"

	// Coinbase Advanced Trade public market data
	coinbaseBaseURL = "https://api.coinbase.com"
	candlesEndpoint = "/api/v3/brokerage/market/products/%s/candles"

	// Request configuration
	maxCandlesPerRequest = 350
)

// coinbaseGranularities maps resolution names to API granularity values.
var coinbaseGranularities = map[string]struct {
	name    string
	seconds int64
}{
	"1m":  {"ONE_MINUTE", 60},
	"5m":  {"FIVE_MINUTE", 300},
	"15m": {"FIFTEEN_MINUTE", 900},
	"30m": {"THIRTY_MINUTE", 1800},
	"1h":  {"ONE_HOUR", 3600},
	"2h":  {"TWO_HOUR", 7200},
	"6h":  {"SIX_HOUR", 21600},
	"1d":  {"ONE_DAY", 86400},
}

// CoinbaseSource reads candles from the Coinbase Advanced Trade REST API.
type CoinbaseSource struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger
	now         func() time.Time
}

// NewCoinbaseSource creates a Coinbase source.
func NewCoinbaseSource(opts SourceOptions) *CoinbaseSource {
	opts = opts.withDefaults()

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = coinbaseBaseURL
	}

	return &CoinbaseSource{
		httpClient:  opts.HTTPClient,
		rateLimiter: opts.limiter(),
		baseURL:     baseURL,
		logger:      opts.Logger.With("component", coinbaseComponent),
		now:         time.Now,
	}
}

func (c *CoinbaseSource) Name() string { return coinbaseComponent }

func (c *CoinbaseSource) MaxPageLimit() int { return maxCandlesPerRequest }

// FetchPage implements MarketDataSource. Coinbase pages by time window, so the
// window is sized to hold at most limit candles starting at sinceMs.
func (c *CoinbaseSource) FetchPage(ctx context.Context, symbol string, res models.Resolution, sinceMs int64, limit int) ([]models.Candle, error) {
	granularity, ok := coinbaseGranularities[res.Name]
	if !ok {
		return nil, ohlcverr.New(ohlcverr.ErrorTypeBadRequest, coinbaseComponent, "fetch_page",
			fmt.Errorf("unsupported resolution: %s", res))
	}

	limit = clampLimit(limit, maxCandlesPerRequest)
	start := ceilDiv(sinceMs, 1000)
	end := start + int64(limit-1)*granularity.seconds
	if now := c.now().Unix(); end > now {
		end = now
	}
	if end < start {
		return nil, nil
	}

	if err := waitForLimit(ctx, c.rateLimiter, coinbaseComponent); err != nil {
		return nil, err
	}

	product := CoinbaseProductID(symbol)
	params := url.Values{}
	params.Set("start", strconv.FormatInt(start, 10))
	params.Set("end", strconv.FormatInt(end, 10))
	params.Set("granularity", granularity.name)
	params.Set("limit", strconv.Itoa(limit))
	requestURL := fmt.Sprintf(c.baseURL+candlesEndpoint, url.PathEscape(product)) + "?" + params.Encode()

	c.logger.Debug("fetching candles",
		"product", product,
		"granularity", granularity.name,
		"start", start,
		"end", end)

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Candles []coinbaseCandle `json:"candles"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, ohlcverr.New(ohlcverr.ErrorTypeValidation, coinbaseComponent, "fetch_page",
			fmt.Errorf("failed to parse candles response: %w", err))
	}

	candles := make([]models.Candle, 0, len(apiResponse.Candles))
	for _, cb := range apiResponse.Candles {
		ts := cb.Start * 1000
		if ts < sinceMs {
			continue
		}
		candle, err := models.NewCandleFromStrings(ts, cb.Open, cb.High, cb.Low, cb.Close, cb.Volume)
		if err != nil {
			return nil, ohlcverr.New(ohlcverr.ErrorTypeValidation, coinbaseComponent, "fetch_page", err)
		}
		candles = append(candles, candle)
	}

	// Coinbase returns newest first
	slices.SortFunc(candles, func(a, b models.Candle) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		default:
			return 0
		}
	})

	return candles, nil
}

func (c *CoinbaseSource) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, ohlcverr.New(ohlcverr.ErrorTypeConfiguration, coinbaseComponent, "fetch_page",
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "go-ohlcv-history/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ohlcverr.New(ohlcverr.Classify(err).Type, coinbaseComponent, "fetch_page",
			fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ohlcverr.New(ohlcverr.ErrorTypeNetwork, coinbaseComponent, "fetch_page",
			fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, classifyHTTPStatus(resp, body)
	}
	return body, nil
}

// classifyHTTPStatus turns an error response into a classified error.
func classifyHTTPStatus(resp *http.Response, body []byte) error {
	status := resp.StatusCode

	var errorType ohlcverr.ErrorType
	switch {
	case status == http.StatusTooManyRequests:
		errorType = ohlcverr.ErrorTypeRateLimit
	case status >= 500:
		errorType = ohlcverr.ErrorTypeServerError
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errorType = ohlcverr.ErrorTypeAuthentication
	case status == http.StatusNotFound:
		errorType = ohlcverr.ErrorTypeNotFound
	default:
		errorType = ohlcverr.ErrorTypeBadRequest
	}

	ce := ohlcverr.New(errorType, coinbaseComponent, "fetch_page",
		fmt.Errorf("status %d: %s", status, truncate(string(body), 256)))
	ce.StatusCode = status
	ce.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	return ce
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}

// CoinbaseProductID converts "BTC/USD" or "btc_usd" to "BTC-USD".
func CoinbaseProductID(symbol string) string {
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return base
	}
	return base + "-" + quote
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a > 0) == (b > 0) {
		q++
	}
	return q
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

type coinbaseCandle struct {
	Start  int64  `json:"start,string"`
	Low    string `json:"low"`
	High   string `json:"high"`
	Open   string `json:"open"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}
