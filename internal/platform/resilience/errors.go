package resilience

import (
	"context"
	"errors"
	"fmt"
)

// Errors crossing the retry boundary are classified into three groups:
// transient (retried), rate-limited (retried with a longer backoff), and
// permanent (returned immediately). Callers producing errors mark them with
// RateLimited or Permanent; anything unmarked is treated as transient.

type rateLimitedError struct {
	err error
}

func (e *rateLimitedError) Error() string { return fmt.Sprintf("rate limited: %v", e.err) }
func (e *rateLimitedError) Unwrap() error { return e.err }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// RateLimited marks err as a quota/throttling failure.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}
	return &rateLimitedError{err: err}
}

// Permanent marks err as not worth retrying (validation failures, not-found).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRateLimited reports whether err carries a rate-limited marker.
func IsRateLimited(err error) bool {
	var rl *rateLimitedError
	return errors.As(err, &rl)
}

// IsPermanent reports whether err must not be retried.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// An open breaker means the dependency is known-bad; retrying inside the
	// same call just burns the caller's deadline.
	return errors.Is(err, ErrCircuitOpen)
}

// RetryExhaustedError wraps the last underlying error after all attempts failed.
type RetryExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: retry budget exhausted after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }
