// Package retry provides a small exponential-backoff helper for transient
// provider failures.
package retry

import (
	"context"
	"time"
)

// Config controls the backoff schedule. Attempt n (zero-based) sleeps
// BaseDelay * 2^n before retrying.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
	}
}

// Do runs fn up to MaxRetries+1 times. The last error is returned once
// retries are exhausted. Context cancellation aborts the wait and returns
// the context error.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries {
			return lastErr
		}

		delay := cfg.BaseDelay << attempt

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var out T
	err := Do(ctx, cfg, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}
