package exchange

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/johnayoung/go-ohlcv-history/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestNewSource(t *testing.T) {
	cfg := config.DefaultConfig().Source

	src, err := NewSource(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "binance", src.Name())
	assert.Equal(t, 1000, src.MaxPageLimit())

	cfg.Type = "Coinbase"
	src, err = NewSource(cfg, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "coinbase", src.Name())
	assert.Equal(t, 350, src.MaxPageLimit())

	cfg.Type = "kraken"
	_, err = NewSource(cfg, testLogger())
	assert.ErrorContains(t, err, "unsupported source type")

	cfg.Type = "binance"
	cfg.Timeout = "forever"
	_, err = NewSource(cfg, testLogger())
	assert.ErrorContains(t, err, "invalid source timeout")
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 1, clampLimit(0, 1000))
	assert.Equal(t, 1, clampLimit(-5, 1000))
	assert.Equal(t, 500, clampLimit(500, 1000))
	assert.Equal(t, 1000, clampLimit(5000, 1000))
}

func TestSymbolConversion(t *testing.T) {
	tests := []struct {
		in       string
		binance  string
		coinbase string
	}{
		{"BTC/USDT", "BTCUSDT", "BTC-USDT"},
		{"btc-usd", "BTCUSD", "BTC-USD"},
		{"eth_usdc", "ETHUSDC", "ETH-USDC"},
		{"BTCUSDT", "BTCUSDT", "BTCUSDT"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.binance, BinanceSymbol(tt.in))
			assert.Equal(t, tt.coinbase, CoinbaseProductID(tt.in))
		})
	}
}

func TestWaitForLimit_Cancelled(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(1e9), 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := waitForLimit(ctx, limiter, "test")
	assert.ErrorIs(t, err, context.Canceled)
}
