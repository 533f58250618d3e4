// Package retry runs an action a bounded number of times with a fixed wait.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds retries of an action.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first. Minimum 1.
	MaxAttempts int
	// Backoff is the fixed wait between attempts.
	Backoff time.Duration
	// Retryable reports whether an error may succeed on another attempt.
	// Nil treats every error as permanent.
	Retryable func(error) bool
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Error reports the final failure of an action.
type Error struct {
	// Attempts is how many times the action ran.
	Attempts int
	// Exhausted is true when the final error was retryable but no attempts were left.
	Exhausted bool
	// Err is the last error returned by the action.
	Err error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("attempt %d: %v", e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Do runs action until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Failures are returned as *Error.
func Do[T any](ctx context.Context, p Policy, action func(ctx context.Context) (T, error)) (T, error) {
	maxAttempts := max(p.MaxAttempts, 1)

	attempts := 0
	var last error
	op := func() (T, error) {
		attempts++
		v, err := action(ctx)
		if err == nil {
			return v, nil
		}
		last = err
		if p.Retryable == nil || !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Backoff)),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if p.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			p.OnRetry(attempts, err, wait)
		}))
	}

	v, err := backoff.Retry(ctx, op, opts...)
	if err == nil {
		return v, nil
	}
	if last == nil || (!errors.Is(err, last) && ctx.Err() != nil) {
		// Cancelled before or between attempts.
		return v, &Error{Attempts: attempts, Err: err}
	}
	retryable := p.Retryable != nil && p.Retryable(last)
	return v, &Error{Attempts: attempts, Exhausted: retryable, Err: last}
}
