// Package models provides the value types shared by the fetch and resample paths:
// OHLCV candles, half-open millisecond time ranges, and bucket resolutions.
package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV row. Timestamp is the bucket open time in milliseconds since
// the Unix epoch, UTC.
//
// Well-formed source data satisfies low <= open, close <= high, but candles are
// carried as received and never validated.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ParseError reports an exchange field that could not be converted to a number.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s value %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewCandleFromStrings builds a candle from the decimal strings exchanges return.
// Values are parsed as decimals first so malformed numbers are rejected rather
// than silently becoming zero.
func NewCandleFromStrings(timestamp int64, open, high, low, close, volume string) (Candle, error) {
	fields := [5]struct {
		name  string
		value string
	}{
		{"open", open}, {"high", high}, {"low", low}, {"close", close}, {"volume", volume},
	}

	var parsed [5]float64
	for i, f := range fields {
		d, err := decimal.NewFromString(f.value)
		if err != nil {
			return Candle{}, &ParseError{Field: f.name, Value: f.value, Err: err}
		}
		parsed[i] = d.InexactFloat64()
	}

	return Candle{
		Timestamp: timestamp,
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}, nil
}

// Time returns the candle timestamp as a UTC time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// End returns the exclusive end of the bucket this candle opens at resolution res.
func (c Candle) End(res Resolution) int64 {
	return res.BucketEnd(c.Timestamp)
}

func (c Candle) String() string {
	return fmt.Sprintf("Candle{%s O:%s H:%s L:%s C:%s V:%s}",
		c.Time().Format(time.RFC3339),
		strconv.FormatFloat(c.Open, 'f', -1, 64),
		strconv.FormatFloat(c.High, 'f', -1, 64),
		strconv.FormatFloat(c.Low, 'f', -1, 64),
		strconv.FormatFloat(c.Close, 'f', -1, 64),
		strconv.FormatFloat(c.Volume, 'f', -1, 64))
}
