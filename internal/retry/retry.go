// Package retry wraps a single provider call with bounded retries and
// exponential backoff. The executor is stateless, so every fan-out slot can
// share one configuration concurrently.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Classify reports whether an error is worth retrying. Anything else is
// treated as fatal and propagated immediately.
type Classify func(error) bool

// ExhaustedError tags the last error with the attempt count once the budget
// is spent.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Executor holds the retry budget and backoff base.
type Executor struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// New constructs an executor, applying defaults for non-positive values.
func New(maxAttempts int, baseDelay time.Duration) Executor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return Executor{MaxAttempts: maxAttempts, BaseDelay: baseDelay}
}

// Do invokes fn up to MaxAttempts times. Retryable failures sleep
// baseDelay * 2^(attempt-1) between invocations; the delay suspends only the
// calling goroutine. Fatal failures and context cancellation return at once.
func Do[T any](ctx context.Context, exec Executor, classify Classify, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= exec.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := exec.BaseDelay << (attempt - 2)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if classify == nil || !classify(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &ExhaustedError{Attempts: exec.MaxAttempts, Err: lastErr}
}
