package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// baseBackoff is the delay before the first retry; it doubles per attempt.
const baseBackoff = 500 * time.Millisecond

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable. Retry stops immediately when fn
// returns one.
func Permanent(err error) error { return &permanentError{err: err} }

// Retry runs fn up to 1+retries times with exponential backoff between
// attempts. The name prefixes error messages so callers can tell which
// adapter failed.
func Retry(ctx context.Context, name string, retries int, fn func(ctx context.Context) error) error {
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		// No backoff before the first attempt.
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * baseBackoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
