// Package store abstracts the slow, quota-limited persistent key-value
// store that is the system of record behind the caching tiers.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
// It is terminal: the retry layer never retries it.
var ErrNotFound = errors.New("store: key not found")

// Store is the backing store contract. Implementations are expected to be
// slow (remote), rate limited, and eventually consistent across processes.
// The store knows nothing about caching.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the value for key.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases underlying resources.
	Close() error
}
