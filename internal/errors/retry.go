package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-ohlcv-history/internal/config"
)

// Retry defaults: eight attempts, waits of 1s, 2s, 4s ... capped at 60s.
const (
	DefaultMaxAttempts  = 8
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 60 * time.Second
	DefaultMultiplier   = 2.0
)

// RetryPolicy runs a unit of work with bounded exponential backoff. Only
// retryable failures are tried again; the last error is returned unchanged once
// attempts run out.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	logger *slog.Logger
	timer  backoff.Timer
}

// DefaultRetryPolicy returns the standard policy for page requests.
func DefaultRetryPolicy(logger *slog.Logger) *RetryPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryPolicy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		logger:       logger,
	}
}

// NewRetryPolicy builds a policy from configuration. Empty fields keep defaults.
func NewRetryPolicy(cfg config.RetryPolicyConfig, logger *slog.Logger) (*RetryPolicy, error) {
	p := DefaultRetryPolicy(logger)

	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay != "" {
		d, err := time.ParseDuration(cfg.InitialDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid initial_delay %q: %w", cfg.InitialDelay, err)
		}
		p.InitialDelay = d
	}
	if cfg.MaxDelay != "" {
		d, err := time.ParseDuration(cfg.MaxDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid max_delay %q: %w", cfg.MaxDelay, err)
		}
		p.MaxDelay = d
	}
	if cfg.Multiplier > 0 {
		p.Multiplier = cfg.Multiplier
	}
	p.Jitter = cfg.Jitter

	return p, nil
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Cancellation is honoured before every wait and
// reported as the context error.
func (p *RetryPolicy) Do(ctx context.Context, operation string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		err := fn()
		lastErr = err
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			p.log().Warn("operation failed with non-retryable error",
				"operation", operation,
				"attempt", attempt,
				"error_type", GetErrorType(err),
				"error", err.Error())
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		p.log().Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"wait", wait,
			"error_type", GetErrorType(err),
			"error", err.Error())
	}

	err := backoff.RetryNotifyWithTimer(op, backoff.WithContext(p.backOff(&lastErr), ctx), notify, p.timer)
	if err != nil && attempt >= p.MaxAttempts && ctx.Err() == nil {
		p.log().Error("operation failed, attempts exhausted",
			"operation", operation,
			"attempts", attempt,
			"error", err.Error())
	}
	return err
}

func (p *RetryPolicy) backOff(lastErr *error) backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = p.InitialDelay
	exponential.MaxInterval = p.MaxDelay
	exponential.Multiplier = p.Multiplier
	exponential.MaxElapsedTime = 0
	if !p.Jitter {
		exponential.RandomizationFactor = 0
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &retryAfterBackOff{
		BackOff: backoff.WithMaxRetries(exponential, uint64(maxAttempts-1)),
		lastErr: lastErr,
		max:     p.MaxDelay,
	}
}

// retryAfterBackOff stretches a wait to the server's Retry-After hint, never
// beyond max.
type retryAfterBackOff struct {
	backoff.BackOff
	lastErr *error
	max     time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop || *b.lastErr == nil {
		return next
	}

	var ce *ClassifiedError
	if errors.As(*b.lastErr, &ce) && ce.RetryAfter > next {
		next = min(ce.RetryAfter, b.max)
	}
	return next
}

func (p *RetryPolicy) log() *slog.Logger {
	if p.logger == nil {
		return slog.Default()
	}
	return p.logger
}
