// Package retry runs storage writes that must land, such as terminal status
// updates, with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanent struct{ err error }

func (p permanent) Error() string { return p.err.Error() }
func (p permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanent{err}
}

// Do executes fn up to maxAttempts times. The delay doubles on each attempt
// (200ms -> 400ms -> 800ms for a 200ms base) plus 0-50% jitter.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := baseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		var p permanent
		if errors.As(lastErr, &p) {
			return p.err
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}
		var jitter time.Duration
		if half := int64(delay / 2); half > 0 {
			jitter = time.Duration(rand.Int64N(half))
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return lastErr
}
