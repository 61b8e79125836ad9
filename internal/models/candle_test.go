package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNewCandleFromStrings(t *testing.T) {
	tests := []struct {
		name    string
		open    string
		high    string
		low     string
		close   string
		volume  string
		want    Candle
		wantErr string
	}{
		{
			name: "valid_exchange_strings",
			open: "100.00", high: "105.50", low: "99.25", close: "104.00", volume: "1500.75",
			want: Candle{Timestamp: testTime.UnixMilli(), Open: 100, High: 105.5, Low: 99.25, Close: 104, Volume: 1500.75},
		},
		{
			name: "high_precision",
			open: "0.01634790", high: "0.80000000", low: "0.01575800", close: "0.01577100", volume: "148976.11427815",
			want: Candle{Timestamp: testTime.UnixMilli(), Open: 0.0163479, High: 0.8, Low: 0.015758, Close: 0.015771, Volume: 148976.11427815},
		},
		{
			name: "malformed_volume",
			open: "1", high: "1", low: "1", close: "1", volume: "abc",
			wantErr: "invalid volume",
		},
		{
			name: "empty_open",
			open: "", high: "1", low: "1", close: "1", volume: "1",
			wantErr: "invalid open",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewCandleFromStrings(testTime.UnixMilli(), tt.open, tt.high, tt.low, tt.close, tt.volume)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				var parseErr *ParseError
				assert.ErrorAs(t, err, &parseErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandle_TimeAndEnd(t *testing.T) {
	c := Candle{Timestamp: testTime.Add(30 * time.Second).UnixMilli()}

	assert.Equal(t, testTime.Add(30*time.Second), c.Time())
	assert.Equal(t, time.UTC, c.Time().Location())
	assert.Equal(t, testTime.Add(time.Minute).UnixMilli(), c.End(Minute))
	assert.Equal(t, testTime.Add(time.Hour).UnixMilli(), c.End(Hour))
}

func TestCandle_String(t *testing.T) {
	c := Candle{Timestamp: testTime.UnixMilli(), Open: 10, High: 12.5, Low: 9, Close: 11, Volume: 5}
	assert.Equal(t, "Candle{2024-01-01T12:00:00Z O:10 H:12.5 L:9 C:11 V:5}", c.String())
}
