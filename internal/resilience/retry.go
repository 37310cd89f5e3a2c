// Package resilience retries the engine's outbound calls: oracle prompts,
// search result pages, and page fetches. Only transient failures are
// retried; everything else surfaces to the caller on the first attempt.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls backoff between attempts. A zero InitialBackoff
// retries immediately; MaxAttempts and Multiplier fall back to defaults
// when unset.
type RetryConfig struct {
	// MaxAttempts counts the first try too. Default: 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry. Zero retries
	// without sleeping.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay. Zero means uncapped.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each failed attempt. Default: 2.
	Multiplier float64

	// JitterFraction spreads the delay by ±this fraction to avoid
	// thundering retries against the same endpoint.
	JitterFraction float64

	// ShouldRetry overrides the IsTransient default.
	ShouldRetry func(err error) bool

	// OnRetry runs before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is the schedule the oracle client starts from.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// DoVal runs fn until it succeeds, the attempts are spent, or the error is
// not retryable. Context cancellation wins over the remaining schedule.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)
	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(lastErr) {
			return zero, lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if !sleep(ctx, backoff(attempt, cfg)) {
			return zero, lastErr
		}
	}
	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxBackoff > 0 && delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}
	if cfg.JitterFraction > 0 {
		spread := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * spread
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger builds an OnRetry callback that warns with the service and
// operation attached.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
