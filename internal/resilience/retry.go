package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Retry defaults. The translation coordinator uses these as-is; other callers
// can override any field.
const (
	DefaultAttempts       = 3
	DefaultBaseDelay      = 500 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultJitterFactor   = 0.2
	DefaultAttemptTimeout = 30 * time.Second
)

// ErrAttemptsExhausted is returned when every retry attempt failed.
var ErrAttemptsExhausted = errors.New("all retry attempts failed")

// RetryConfig holds retry settings. The zero value uses all defaults.
type RetryConfig struct {
	// Attempts is the total number of tries, including the first.
	// Default: 3.
	Attempts int

	// BaseDelay is the wait before the second attempt; it doubles each
	// further attempt. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff delay. Default: 10s.
	MaxDelay time.Duration

	// JitterFactor spreads each delay by ±factor/2 so concurrent retries
	// do not stampede. Default: 0.2.
	JitterFactor float64

	// AttemptTimeout bounds each individual attempt via a child context.
	// Default: 30s.
	AttemptTimeout time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Attempts <= 0 {
		c.Attempts = DefaultAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = DefaultJitterFactor
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	return c
}

// Retry executes fn with exponential backoff until it succeeds, the attempt
// budget is spent, or ctx is cancelled. Each attempt runs under a child
// context bounded by the attempt timeout.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := RetryWithResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryWithResult is [Retry] for functions that return a value. This is a
// package-level function because Go does not support method-level type
// parameters.
func RetryWithResult[R any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	cfg = cfg.withDefaults()
	var (
		lastErr error
		zero    R
	)

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
		result, err := fn(attemptCtx)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.Attempts-1 {
			break
		}

		delay := backoffDelay(cfg, attempt)
		slog.Debug("retrying after error",
			"attempt", attempt+1, "max", cfg.Attempts, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, fmt.Errorf("%w: %v", ErrAttemptsExhausted, lastErr)
}

// backoffDelay calculates exponential backoff with jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << min(attempt, 6) // cap shift to prevent overflow
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	jitter := float64(delay) * cfg.JitterFactor * (rand.Float64() - 0.5)
	return time.Duration(float64(delay) + jitter)
}
