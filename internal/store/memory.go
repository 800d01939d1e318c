package store

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/averko/marketpulse/internal/platform/resilience"
)

// MemoryStore is an in-process Store used for local development and tests.
// It supports injectable latency and failures so callers can exercise the
// retry and degraded-read paths.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// Failure injection. Nil means the operation succeeds.
	failGet    error
	failPut    error
	failDelete error

	latency time.Duration

	getCalls    atomic.Int64
	putCalls    atomic.Int64
	deleteCalls atomic.Int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.getCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	failure := s.failGet
	value, ok := s.data[key]
	s.mu.RUnlock()

	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, resilience.Permanent(ErrNotFound)
	}

	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put writes the value for key.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.putCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failPut != nil {
		return s.failPut
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return nil
}

// Delete removes the key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.deleteCalls.Add(1)
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failDelete != nil {
		return s.failDelete
	}

	delete(s.data, key)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FailGets makes subsequent Gets return err. Pass nil to restore.
func (s *MemoryStore) FailGets(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGet = err
}

// FailPuts makes subsequent Puts return err. Pass nil to restore.
func (s *MemoryStore) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut = err
}

// SetLatency adds artificial latency to every operation.
func (s *MemoryStore) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// GetCalls returns the number of Get invocations.
func (s *MemoryStore) GetCalls() int64 { return s.getCalls.Load() }

// PutCalls returns the number of Put invocations.
func (s *MemoryStore) PutCalls() int64 { return s.putCalls.Load() }

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
