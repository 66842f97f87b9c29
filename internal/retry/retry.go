// Package retry implements the bounded, backed-off re-invocation policy
// for a single remote call. Backoff is deterministic — 1s, 2s, 4s — so
// the total delay budget of a phase is known up front.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts is the total number of attempts, including the first.
const DefaultMaxAttempts = 3

// Retryable is implemented by errors that a later attempt may resolve.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err (or anything it wraps) opts into retry.
// Errors that do not implement Retryable are treated as non-retryable.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// Backoff returns the delay to sleep before attempt n (1-based re-attempt
// index): 1s before the second attempt, 2s before the third, 4s before a
// fourth. Deterministic, non-decreasing.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return time.Duration(1<<(attempt-1)) * time.Second
}

// Controller re-invokes a single remote call up to MaxAttempts times.
type Controller struct {
	MaxAttempts int

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewController creates a Controller with the given attempt bound.
func NewController(maxAttempts int) *Controller {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Controller{
		MaxAttempts: maxAttempts,
		sleep:       sleepCtx,
	}
}

// Do invokes fn up to MaxAttempts times. The attempt number passed to fn
// is 1-based. A non-retryable error, a context cancellation, or success
// ends the loop early. Attempts is how many invocations actually ran.
func (c *Controller) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) (attempts int, err error) {
	var lastErr error
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt - 1)
			log.Info().
				Str("call", name).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Retrying after backoff")
			if err := c.sleep(ctx, delay); err != nil {
				return attempts, err
			}
		}

		start := time.Now()
		attempts = attempt
		lastErr = fn(ctx, attempt)

		outcome := "ok"
		if lastErr != nil {
			outcome = "error"
			if !IsRetryable(lastErr) {
				outcome = "fatal"
			}
		}
		log.Info().
			Str("call", name).
			Int("attempt", attempt).
			Dur("elapsed", time.Since(start)).
			Str("outcome", outcome).
			Msg("Attempt finished")

		if lastErr == nil {
			return attempts, nil
		}
		if !IsRetryable(lastErr) {
			return attempts, lastErr
		}
		if ctx.Err() != nil {
			return attempts, ctx.Err()
		}
	}
	return attempts, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithSleep overrides the backoff sleep, for tests.
func (c *Controller) WithSleep(fn func(ctx context.Context, d time.Duration) error) *Controller {
	c.sleep = fn
	return c
}
