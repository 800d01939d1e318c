package dal

import (
	"context"
	"sync"
)

// ExclusiveKeyLock serializes writers of a coordinated key. Acquire blocks
// until the lock is free or the context is done; TryAcquire never blocks.
// Both return a release function on success.
type ExclusiveKeyLock interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
	TryAcquire(key string) (release func(), err error)
	Coordinates(key string) bool
}

// KeyedCoordinator is an in-process ExclusiveKeyLock over a fixed set of
// keys. Keys outside the set are uncoordinated: acquisition is a no-op, so
// normal writes pay nothing.
//
// Each coordinated key also carries a state bag writers can use to hand
// context to the next holder (cursors, sequence numbers).
type KeyedCoordinator struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	state map[string]any
}

// NewKeyedCoordinator creates a coordinator for the given keys.
func NewKeyedCoordinator(keys []string) *KeyedCoordinator {
	locks := make(map[string]chan struct{}, len(keys))
	for _, key := range keys {
		ch := make(chan struct{}, 1)
		ch <- struct{}{}
		locks[key] = ch
	}
	return &KeyedCoordinator{
		locks: locks,
		state: make(map[string]any),
	}
}

// Coordinates reports whether the key requires single-writer semantics.
func (c *KeyedCoordinator) Coordinates(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locks[key]
	return ok
}

// Acquire takes the key's lock, blocking until it is free or ctx is done.
// For uncoordinated keys it returns immediately with a no-op release.
func (c *KeyedCoordinator) Acquire(ctx context.Context, key string) (func(), error) {
	ch := c.lockChan(key)
	if ch == nil {
		return func() {}, nil
	}

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryAcquire takes the key's lock without blocking. Returns
// ErrCoordinationConflict when another writer holds it.
func (c *KeyedCoordinator) TryAcquire(key string) (func(), error) {
	ch := c.lockChan(key)
	if ch == nil {
		return func() {}, nil
	}

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	default:
		return nil, ErrCoordinationConflict
	}
}

// State returns the state bag value for a coordinated key. Callers should
// read and write state only while holding the key's lock.
func (c *KeyedCoordinator) State(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// SetState stores a state bag value for a coordinated key.
func (c *KeyedCoordinator) SetState(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state[key] = value
}

// WithExclusiveAccess runs fn while holding the key's lock, passing the
// current state bag value and persisting the one fn returns. fn's error
// aborts the state update.
func (c *KeyedCoordinator) WithExclusiveAccess(ctx context.Context, key string, fn func(state any) (any, error)) error {
	release, err := c.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()

	current, _ := c.State(key)
	next, err := fn(current)
	if err != nil {
		return err
	}
	c.SetState(key, next)
	return nil
}

func (c *KeyedCoordinator) lockChan(key string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locks[key]
}
