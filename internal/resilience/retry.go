package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig tunes [Retry].
type RetryConfig struct {
	// MaxAttempts is the total number of tries including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay seeds the exponential backoff. Default: 500ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff regardless of attempt count. Default: 10s.
	MaxDelay time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	return c
}

// permanentError marks an error that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that [Retry] gives up on it immediately. Use it for
// failures where a repeat call would send the identical doomed request, such
// as authentication or request-validation rejections.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, ctx is
// done, or fn returns a [Permanent] error. Between attempts it sleeps a
// full-jitter exponential backoff: a uniformly random duration up to
// BaseDelay doubled per attempt, capped at MaxDelay. op names the operation
// in logs and the final error.
//
// Retry sits at the transport boundary. Judgment failures, where the backend
// answered but the answer is unusable, are detected above this layer and are
// not retried here.
func Retry[T any](ctx context.Context, cfg RetryConfig, op string, fn func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepBackoff(ctx, cfg, attempt-1); err != nil {
				return zero, fmt.Errorf("%s: %w", op, err)
			}
			slog.Debug("retrying", "op", op, "attempt", attempt, "last_error", lastErr)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, fmt.Errorf("%s: %w", op, perm.err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}
	}
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}

// sleepBackoff waits out the full-jitter delay for the given completed
// attempt count, or returns early when ctx is done.
func sleepBackoff(ctx context.Context, cfg RetryConfig, completed int) error {
	ceil := cfg.BaseDelay << (completed - 1)
	if ceil > cfg.MaxDelay || ceil <= 0 {
		ceil = cfg.MaxDelay
	}
	delay := rand.N(ceil)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
