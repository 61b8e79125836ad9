// Package app holds the two top-level operations: fetching a range of candles
// into a file and resampling a stored series into coarser ones. Both take every
// dependency explicitly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-history/internal/collector"
	ohlcverr "github.com/johnayoung/go-ohlcv-history/internal/errors"
	"github.com/johnayoung/go-ohlcv-history/internal/exchange"
	"github.com/johnayoung/go-ohlcv-history/internal/logger"
	"github.com/johnayoung/go-ohlcv-history/internal/models"
	"github.com/johnayoung/go-ohlcv-history/internal/resample"
	"github.com/johnayoung/go-ohlcv-history/internal/storage"
)

// ErrInterrupted is returned when the caller cancels a run. Rows fetched
// before the interruption have been written.
var ErrInterrupted = errors.New("interrupted")

// FetchOptions describes one fetch run.
type FetchOptions struct {
	Symbol     string
	Resolution models.Resolution
	Range      models.TimeRange
	PageLimit  int
	Dest       string

	// Stream appends each page to Dest as it arrives
	Stream bool
	// KeepPartial writes the rows fetched before a failure
	KeepPartial bool

	Source exchange.MarketDataSource
	Store  storage.StreamingStore
	Retry  *ohlcverr.RetryPolicy
	Logger *slog.Logger
}

func (o FetchOptions) validate() error {
	var problems []string
	if o.Source == nil {
		problems = append(problems, "source is required")
	}
	if o.Store == nil {
		problems = append(problems, "store is required")
	}
	if o.Dest == "" {
		problems = append(problems, "destination is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid fetch options: %s", strings.Join(problems, ", "))
	}
	return nil
}

// FetchRange fetches opts.Range and writes it to opts.Dest.
//
// On cancellation the rows fetched so far are written and the returned error
// wraps ErrInterrupted with the cursor to resume from. When the source stays
// unavailable the rows are written only if KeepPartial is set.
func FetchRange(ctx context.Context, opts FetchOptions) (*collector.FetchResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	if logger.GetRunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, logger.NewRunID())
	}
	ctx = logger.WithOperation(ctx, "fetch")
	log = logger.FromContext(ctx, log)

	fetcher := collector.New(opts.Source, &collector.Config{
		PageLimit: opts.PageLimit,
		Retry:     opts.Retry,
		Logger:    log,
	})
	req := collector.FetchRequest{
		Symbol:     opts.Symbol,
		Resolution: opts.Resolution,
		Range:      opts.Range,
		PageLimit:  opts.PageLimit,
	}

	if opts.Stream {
		return fetchStreaming(ctx, fetcher, req, opts, log)
	}
	return fetchBuffered(ctx, fetcher, req, opts, log)
}

func fetchBuffered(ctx context.Context, fetcher *collector.Fetcher, req collector.FetchRequest, opts FetchOptions, log *slog.Logger) (*collector.FetchResult, error) {
	result, err := fetcher.Fetch(ctx, req)
	if result == nil {
		return nil, err
	}

	// Partial rows are written even though ctx may already be cancelled
	writeCtx := context.WithoutCancel(ctx)

	switch {
	case err != nil:
		if opts.KeepPartial && len(result.Rows) > 0 {
			if werr := opts.Store.Write(writeCtx, opts.Dest, result.Rows); werr != nil {
				return result, errors.Join(err, werr)
			}
			log.Warn("wrote partial series", "path", opts.Dest, "rows", len(result.Rows), "resume_from", storage.FormatTime(result.Cursor))
		}
		return result, err

	case result.Status == collector.StatusCancelled:
		if werr := opts.Store.Write(writeCtx, opts.Dest, result.Rows); werr != nil {
			return result, werr
		}
		log.Warn("wrote partial series", "path", opts.Dest, "rows", len(result.Rows), "resume_from", storage.FormatTime(result.Cursor))
		return result, interrupted(result)
	}

	if err := opts.Store.Write(ctx, opts.Dest, result.Rows); err != nil {
		return result, err
	}
	log.Info("wrote series", "path", opts.Dest, "rows", len(result.Rows), "status", result.Status)
	return result, nil
}

// abortable is implemented by appenders that can discard what they wrote.
type abortable interface {
	Abort() error
}

func fetchStreaming(ctx context.Context, fetcher *collector.Fetcher, req collector.FetchRequest, opts FetchOptions, log *slog.Logger) (*collector.FetchResult, error) {
	appender, err := opts.Store.Appender(opts.Dest)
	if err != nil {
		return nil, err
	}

	result, err := fetcher.FetchTo(ctx, req, appender)
	if err != nil {
		if !opts.KeepPartial {
			if a, ok := appender.(abortable); ok {
				if aerr := a.Abort(); aerr != nil {
					log.Warn("failed to discard partial series", "path", opts.Dest, "error", aerr)
				}
				return result, err
			}
		}
		if cerr := appender.Close(); cerr != nil {
			return result, errors.Join(err, cerr)
		}
		return result, err
	}

	if err := appender.Close(); err != nil {
		return result, err
	}

	if result.Status == collector.StatusCancelled {
		log.Warn("wrote partial series", "path", opts.Dest, "rows", result.RowsFetched, "resume_from", storage.FormatTime(result.Cursor))
		return result, interrupted(result)
	}

	log.Info("wrote series", "path", opts.Dest, "rows", result.RowsFetched, "status", result.Status)
	return result, nil
}

func interrupted(result *collector.FetchResult) error {
	return fmt.Errorf("%w: %d rows written, resume from %s (cursor %d)",
		ErrInterrupted, result.RowsFetched, storage.FormatTime(result.Cursor), result.Cursor)
}

// ResampleOptions describes one resample run.
type ResampleOptions struct {
	Base        string
	Resolutions []models.Resolution
	// OutputDir defaults to the directory holding Base
	OutputDir string
	// AsOf drops buckets that end after it; zero keeps the trailing bucket
	AsOf        time.Time
	Concurrency int

	Store  storage.SeriesStore
	Logger *slog.Logger
}

// ResampleOutput reports one written series.
type ResampleOutput struct {
	Resolution models.Resolution
	Path       string
	Rows       int
}

// ResampleSeries reads Base and writes one resampled series per resolution.
func ResampleSeries(ctx context.Context, opts ResampleOptions) ([]ResampleOutput, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("invalid resample options: store is required")
	}
	if opts.Base == "" {
		return nil, fmt.Errorf("invalid resample options: base series is required")
	}
	resolutions := opts.Resolutions
	if len(resolutions) == 0 {
		resolutions = models.DefaultResampleResolutions
	}
	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = filepath.Dir(opts.Base)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if logger.GetRunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, logger.NewRunID())
	}
	ctx = logger.WithOperation(ctx, "resample")
	log = logger.FromContext(ctx, log)

	var rows []models.Candle
	err := logger.TimedOperation(ctx, log, "read_base", func() error {
		var err error
		rows, err = opts.Store.Read(ctx, opts.Base)
		return err
	})
	if err != nil {
		return nil, err
	}
	log.Info("read base series", "path", opts.Base, "rows", len(rows))

	series, err := resample.ResampleAll(ctx, rows, resolutions,
		resample.WithAsOf(opts.AsOf),
		resample.WithConcurrency(opts.Concurrency),
		resample.WithLogger(log))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrInterrupted, err)
		}
		return nil, err
	}

	outputs := make([]ResampleOutput, 0, len(series))
	for _, s := range series {
		if err := ctx.Err(); err != nil {
			return outputs, fmt.Errorf("%w: %d of %d series written", ErrInterrupted, len(outputs), len(series))
		}

		dest := filepath.Join(outputDir, OutputName(opts.Base, s.Resolution))
		if err := opts.Store.Write(ctx, dest, s.Rows); err != nil {
			return outputs, err
		}
		outputs = append(outputs, ResampleOutput{Resolution: s.Resolution, Path: dest, Rows: len(s.Rows)})
		log.Info("wrote resampled series", "resolution", s.Resolution.Name, "path", dest, "rows", len(s.Rows))
	}

	return outputs, nil
}

// OutputName names the resampled file for base at res. A trailing resolution
// label on the base stem is replaced: BTCUSDT_1min.csv at 5 minutes becomes
// BTCUSDT_5min.csv. Only labels with an explicit count are recognised, so
// prices_h.csv keeps its stem.
func OutputName(base string, res models.Resolution) string {
	stem := strings.TrimSuffix(filepath.Base(base), filepath.Ext(base))
	if i := strings.LastIndex(stem, "_"); i > 0 && hasLeadingDigit(stem[i+1:]) {
		if _, err := models.ParseResolution(stem[i+1:]); err == nil {
			stem = stem[:i]
		}
	}
	return stem + "_" + res.Suffix() + ".csv"
}

func hasLeadingDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
