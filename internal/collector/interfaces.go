// Package collector walks a time range page by page against a market data
// source, retrying transient failures, and either accumulates the rows or
// streams them to a sink as they arrive.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// PageSink receives every fetched page in order. Implementations must not retain
// the slice after Append returns.
type PageSink interface {
	Append(ctx context.Context, rows []models.Candle) error
}

// Status describes how a fetch run ended.
type Status string

const (
	// StatusCompleted means the cursor reached the end of the range
	StatusCompleted Status = "completed"
	// StatusExhausted means the source returned an empty page first
	StatusExhausted Status = "exhausted"
	// StatusCancelled means the caller cancelled; rows so far are kept
	StatusCancelled Status = "cancelled"
	// StatusFailed means the run stopped on an error
	StatusFailed Status = "failed"
)

// Success reports whether the run covered everything the source had.
func (s Status) Success() bool {
	return s == StatusCompleted || s == StatusExhausted
}

// SourceUnavailableError reports a page that still failed after every retry.
// Rows accumulated before the failure are kept in Partial (in-memory fetches)
// or are already in the sink (streaming fetches, see RowsFetched).
type SourceUnavailableError struct {
	Source      string
	Symbol      string
	Resolution  models.Resolution
	Cursor      int64
	Attempts    int
	RowsFetched int
	Partial     []models.Candle
	Err         error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source %s unavailable for %s %s at cursor %d (%s) after %d attempts: %v",
		e.Source, e.Symbol, e.Resolution, e.Cursor, formatCursor(e.Cursor), e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// NoProgressError reports a page whose last row did not move the cursor
// forward, which would otherwise loop forever.
type NoProgressError struct {
	Source        string
	Symbol        string
	Resolution    models.Resolution
	Cursor        int64
	LastTimestamp int64
}

func (e *NoProgressError) Error() string {
	return fmt.Sprintf("no progress fetching %s %s from %s: cursor %d (%s), last row at %d",
		e.Symbol, e.Resolution, e.Source, e.Cursor, formatCursor(e.Cursor), e.LastTimestamp)
}

func formatCursor(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
