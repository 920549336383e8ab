package util

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// maxRetryDelay caps the backoff between attempts.
const maxRetryDelay = 30 * time.Second

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that Retry returns it without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to attempts times, doubling the delay after each failure
// from baseDelay up to maxRetryDelay. Errors wrapped with Permanent stop the
// loop immediately and are returned unwrapped.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error) error {
	attempts = max(attempts, 1)
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if attempt == attempts {
			return fmt.Errorf("after %d attempts: %w", attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
