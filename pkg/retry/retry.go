// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0, +/- share of the delay
}

// DefaultConfig returns the defaults used for upstream LLM calls:
// 2 retries, 500ms initial delay doubling up to 4s, 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// RetryableError is implemented by errors that declare their own retryability.
type RetryableError interface {
	error
	IsRetryable() bool
}

// IsRetryable reports whether any error in the chain declares itself retryable.
func IsRetryable(err error) bool {
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func applyJitter(delay time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return delay
	}
	jitter := float64(delay) * jitterFactor * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto randomness
	return time.Duration(float64(delay) + jitter)
}

// DoIfRetryable calls fn until it succeeds, returns a non-retryable error, or
// the retry budget is spent. onRetry, when set, is called before each wait
// with the 1-based attempt that just failed. It returns the number of
// attempts made alongside the final error.
func DoIfRetryable(ctx context.Context, cfg *Config, fn func(attempt int) error, onRetry func(attempt int, err error)) (int, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt > cfg.MaxRetries {
			return attempt, err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		select {
		case <-time.After(applyJitter(delay, cfg.JitterFactor)):
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		case <-ctx.Done():
			return attempt, errors.Join(lastErr, ctx.Err())
		}
	}
	return cfg.MaxRetries + 1, lastErr
}
