// Package resample aggregates a sorted candle series into coarser fixed-width
// buckets.
package resample

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johnayoung/go-ohlcv-history/internal/models"
)

// Series is one resampled output.
type Series struct {
	Resolution models.Resolution
	Rows       []models.Candle
}

type options struct {
	asOf        int64
	hasAsOf     bool
	concurrency int
	logger      *slog.Logger
}

// Option tunes Resample and ResampleAll.
type Option func(*options)

// WithAsOf drops buckets that end after t. Without it the trailing bucket is
// emitted even when it is still filling.
func WithAsOf(t time.Time) Option {
	return func(o *options) {
		if t.IsZero() {
			return
		}
		o.asOf = t.UnixMilli()
		o.hasAsOf = true
	}
}

// WithConcurrency caps the number of resolutions ResampleAll works on at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithLogger sets the logger ResampleAll reports progress to.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency <= 0 {
		o.concurrency = runtime.GOMAXPROCS(0)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Resample aggregates rows, which must be in ascending time order, into
// buckets of width res. Each non-empty bucket yields one candle stamped with the
// bucket start: first open, highest high, lowest low, last close, summed
// volume. The input slice is never modified.
func Resample(rows []models.Candle, res models.Resolution, opts ...Option) []models.Candle {
	o := buildOptions(opts)
	return resample(rows, res, o)
}

func resample(rows []models.Candle, res models.Resolution, o options) []models.Candle {
	out := make([]models.Candle, 0, estimateBuckets(rows, res))
	if len(rows) == 0 {
		return out
	}

	var current models.Candle
	open := false
	flush := func() {
		if !open {
			return
		}
		if o.hasAsOf && res.BucketEnd(current.Timestamp) > o.asOf {
			return
		}
		out = append(out, current)
	}

	for _, row := range rows {
		start := res.BucketStart(row.Timestamp)
		if open && start == current.Timestamp {
			current.High = math.Max(current.High, row.High)
			current.Low = math.Min(current.Low, row.Low)
			current.Close = row.Close
			current.Volume += row.Volume
			continue
		}

		flush()
		current = models.Candle{
			Timestamp: start,
			Open:      row.Open,
			High:      row.High,
			Low:       row.Low,
			Close:     row.Close,
			Volume:    row.Volume,
		}
		open = true
	}
	flush()

	return out
}

func estimateBuckets(rows []models.Candle, res models.Resolution) int {
	if len(rows) == 0 || res.Millis() <= 0 {
		return len(rows)
	}
	span := rows[len(rows)-1].Timestamp - rows[0].Timestamp
	n := int(span/res.Millis()) + 1
	return min(n, len(rows))
}

// ResampleAll resamples rows to every resolution in parallel. Results are in
// the order of resolutions.
func ResampleAll(ctx context.Context, rows []models.Candle, resolutions []models.Resolution, opts ...Option) ([]Series, error) {
	for i, res := range resolutions {
		if res.IsZero() {
			return nil, fmt.Errorf("resolution at index %d is empty", i)
		}
	}

	o := buildOptions(opts)
	results := make([]Series, len(resolutions))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, res := range resolutions {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			out := resample(rows, res, o)
			results[i] = Series{Resolution: res, Rows: out}

			o.logger.Debug("resampled series",
				"resolution", res.Name,
				"input_rows", len(rows),
				"output_rows", len(out),
				"duration", time.Since(start))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
