package dal

import (
	"errors"

	"github.com/averko/marketpulse/internal/platform/resilience"
	"github.com/averko/marketpulse/internal/store"
)

var (
	// ErrNotFound means the key exists in no tier and not in the backing store.
	ErrNotFound = errors.New("dal: key not found")

	// ErrBackingStoreUnavailable means the backing store could not be reached
	// and no cached value, not even an expired one, was available to serve.
	ErrBackingStoreUnavailable = errors.New("dal: backing store unavailable")

	// ErrUnknownNamespace means the namespace has no configured policy.
	ErrUnknownNamespace = errors.New("dal: unknown namespace")

	// ErrCoordinationConflict means a non-blocking acquire lost to the
	// current holder of a coordinated key.
	ErrCoordinationConflict = errors.New("dal: coordinated key held by another writer")

	// ErrClosed means the orchestrator has been shut down.
	ErrClosed = errors.New("dal: closed")
)

// errorKind buckets an error for metrics labels.
func errorKind(err error) string {
	var exhausted *resilience.RetryExhaustedError
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return "not_found"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.As(err, &exhausted):
		return "retry_exhausted"
	case errors.Is(err, ErrBackingStoreUnavailable):
		return "store_unavailable"
	case resilience.IsRateLimited(err):
		return "rate_limited"
	default:
		return "other"
	}
}
