package resilience

import (
	"context"
	"errors"
	"time"
)

// ErrRetryExhausted wraps the last error once every attempt has failed.
var ErrRetryExhausted = errors.New("resilience: retry attempts exhausted")

// RetryPolicy bounds how an operation is retried.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      float64
	// Retryable reports whether err warrants another attempt. Errors it
	// rejects are returned immediately.
	Retryable func(error) bool
	// OnRetry observes each retry before the backoff sleep.
	OnRetry func(attempt int, err error)
}

// Retry runs fn until it succeeds, returns a non-retryable error, the context
// ends, or MaxAttempts is reached. Exhaustion yields an error matching both
// ErrRetryExhausted and the last failure.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(ctx, attempt)
		if last == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(last) {
			return last
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, last)
		}
		timer := time.NewTimer(Backoff(p.Base, attempt, p.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return errors.Join(ErrRetryExhausted, last)
}
