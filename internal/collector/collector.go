package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/exchange"
	"github.com/johnayoung/go-ohlcv-history/internal/logger"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// FetchRequest names the series and range to fetch.
type FetchRequest struct {
	Symbol     string
	Resolution models.Resolution
	Range      models.TimeRange
	// PageLimit is clamped to [1, source maximum]
	PageLimit int
}

// Validate checks the fields the source cannot do without. An empty range is
// valid and yields an empty result.
func (r FetchRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if r.Resolution.IsZero() {
		return fmt.Errorf("resolution is required")
	}
	return nil
}

// FetchResult describes a finished or interrupted run. It is returned alongside
// errors too, so callers can always see how far the run got.
type FetchResult struct {
	RunID       string
	Symbol      string
	Resolution  models.Resolution
	Range       models.TimeRange
	Status      Status
	Rows        []models.Candle // nil for streaming fetches
	RowsFetched int
	// Cursor is where a resumed run should start
	Cursor  int64
	Stats   Stats
	Elapsed time.Duration
}

// Config configures a Fetcher
type Config struct {
	PageLimit int
	Retry     *ohlcverr.RetryPolicy
	Logger    *slog.Logger
}

// Fetcher pages through a MarketDataSource.
type Fetcher struct {
	source    exchange.MarketDataSource
	retry     *ohlcverr.RetryPolicy
	pageLimit int
	logger    *slog.Logger
	metrics   metricsCollector
}

// New creates a Fetcher. A nil config uses the default retry policy and the
// source's maximum page size.
func New(source exchange.MarketDataSource, cfg *Config) *Fetcher {
	if cfg == nil {
		cfg = &Config{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	retry := cfg.Retry
	if retry == nil {
		retry = ohlcverr.DefaultRetryPolicy(log)
	}

	pageLimit := cfg.PageLimit
	if pageLimit == 0 {
		pageLimit = source.MaxPageLimit()
	}

	return &Fetcher{
		source:    source,
		retry:     retry,
		pageLimit: pageLimit,
		logger:    log.With("component", "fetcher", "source", source.Name()),
	}
}

// Fetch accumulates the whole range in memory.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	var rows []models.Candle
	result, err := f.run(ctx, req, func(_ context.Context, page []models.Candle) error {
		rows = append(rows, page...)
		return nil
	})
	if result != nil {
		result.Rows = rows
	}

	var unavailable *SourceUnavailableError
	if errors.As(err, &unavailable) {
		unavailable.Partial = rows
	}
	return result, err
}

// FetchTo hands every page to sink as soon as it arrives, so memory use is
// bounded by one page.
func (f *Fetcher) FetchTo(ctx context.Context, req FetchRequest, sink PageSink) (*FetchResult, error) {
	return f.run(ctx, req, sink.Append)
}

// Stats returns totals across every run of this Fetcher.
func (f *Fetcher) Stats() Stats {
	return f.metrics.snapshot()
}

func (f *Fetcher) run(ctx context.Context, req FetchRequest, emit func(context.Context, []models.Candle) error) (*FetchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fetch request: %w", err)
	}

	start := time.Now()
	runID := logger.GetRunID(ctx)
	if runID == "" {
		runID = logger.NewRunID()
		ctx = logger.WithRunID(ctx, runID)
	}
	ctx = logger.WithSymbol(ctx, req.Symbol)
	ctx = logger.WithResolution(ctx, req.Resolution.Name)
	log := logger.FromContext(ctx, f.logger)

	result := &FetchResult{
		RunID:      runID,
		Symbol:     req.Symbol,
		Resolution: req.Resolution,
		Range:      req.Range,
		Status:     StatusCompleted,
		Cursor:     req.Range.Start,
	}
	var run metricsCollector
	finish := func(status Status) {
		result.Status = status
		result.Stats = run.snapshot()
		result.Elapsed = time.Since(start)
	}

	if req.Range.IsEmpty() {
		finish(StatusCompleted)
		return result, nil
	}

	requested := req.PageLimit
	if requested == 0 {
		requested = f.pageLimit
	}
	limit := clampPageLimit(requested, f.source.MaxPageLimit())
	if limit != requested {
		log.Warn("page limit clamped", "requested", requested, "limit", limit, "max", f.source.MaxPageLimit())
	}

	log.Info("starting fetch", "range", req.Range.String(), "page_limit", limit)

	cursor := req.Range.Start
	for cursor < req.Range.End {
		if ctx.Err() != nil {
			finish(StatusCancelled)
			log.Warn("fetch cancelled", "cursor", cursor, "rows", result.RowsFetched)
			return result, nil
		}

		var page []models.Candle
		attempts := 0
		pageStart := time.Now()
		err := f.retry.Do(ctx, "fetch_page", func() error {
			attempts++
			var err error
			page, err = f.source.FetchPage(ctx, req.Symbol, req.Resolution, cursor, limit)
			return err
		})
		if err != nil {
			run.recordFailure(attempts, time.Since(pageStart))
			f.metrics.recordFailure(attempts, time.Since(pageStart))

			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				finish(StatusCancelled)
				log.Warn("fetch cancelled during retry", "cursor", cursor, "rows", result.RowsFetched)
				return result, nil
			}

			finish(StatusFailed)
			log.Error("source unavailable", "cursor", cursor, "attempts", attempts, "error", err)
			return result, &SourceUnavailableError{
				Source:      f.source.Name(),
				Symbol:      req.Symbol,
				Resolution:  req.Resolution,
				Cursor:      cursor,
				Attempts:    attempts,
				RowsFetched: result.RowsFetched,
				Err:         err,
			}
		}

		run.recordPage(len(page), attempts, time.Since(pageStart))
		f.metrics.recordPage(len(page), attempts, time.Since(pageStart))

		if len(page) == 0 {
			finish(StatusExhausted)
			log.Info("source exhausted", "cursor", cursor, "rows", result.RowsFetched)
			return result, nil
		}

		last := page[len(page)-1].Timestamp
		next := last + 1
		if next <= cursor {
			finish(StatusFailed)
			return result, &NoProgressError{
				Source:        f.source.Name(),
				Symbol:        req.Symbol,
				Resolution:    req.Resolution,
				Cursor:        cursor,
				LastTimestamp: last,
			}
		}

		if err := emit(ctx, page); err != nil {
			finish(StatusFailed)
			return result, fmt.Errorf("failed to write page at cursor %d: %w", cursor, err)
		}

		result.RowsFetched += len(page)
		cursor = next
		result.Cursor = cursor

		log.Debug("page fetched", "rows", len(page), "attempts", attempts, "cursor", cursor)
	}

	finish(StatusCompleted)
	log.Info("fetch completed",
		"rows", result.RowsFetched,
		"pages", result.Stats.Pages,
		"retries", result.Stats.Retries,
		"duration", result.Elapsed)
	return result, nil
}

func clampPageLimit(limit, max int) int {
	if limit < 1 {
		return 1
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}
