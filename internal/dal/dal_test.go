package dal

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	"github.com/averko/marketpulse/internal/platform/config"
	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
	"github.com/averko/marketpulse/internal/store"
)

// memTier is an in-process Tier used by tests in place of Redis.
type memTier struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttls    map[string]time.Duration
	failGet error
	gets    int
}

func newMemTier() *memTier {
	return &memTier{
		entries: make(map[string]Entry),
		ttls:    make(map[string]time.Duration),
	}
}

func (t *memTier) Get(ctx context.Context, key string) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gets++
	if t.failGet != nil {
		return Entry{}, t.failGet
	}
	entry, ok := t.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (t *memTier) Put(ctx context.Context, entry Entry, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[entry.Key] = entry
	t.ttls[entry.Key] = ttl
	return nil
}

func (t *memTier) Delete(ctx context.Context, key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
	return nil
}

func (t *memTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deleted := 0
	for key := range t.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(t.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (t *memTier) Close() error { return nil }

func (t *memTier) drop(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

func (t *memTier) ttl(key string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ttls[key]
}

func (t *memTier) has(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// newTestOrchestrator builds an orchestrator over a memory store and a
// memory L2 tier with fast retry timings.
func newTestOrchestrator(t *testing.T, ns config.NamespaceConfig, st store.Store, l2 Tier, coord ExclusiveKeyLock) *Orchestrator {
	t.Helper()

	retrier := resilience.NewExecutor(resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		Jitter:      0,
	}, observability.NewNopLogger(), nil)

	orch, err := NewOrchestrator(context.Background(), OrchestratorConfig{
		Namespaces: []config.NamespaceConfig{ns},
		Cache: config.CacheConfig{
			ExpiredRetention:     time.Minute,
			MaxConcurrentFetches: 8,
			RefreshWorkers:       2,
			RefreshQueueSize:     16,
			RefreshTimeout:       time.Second,
		},
		Store:       st,
		L2:          l2,
		Retrier:     retrier,
		Coordinator: coord,
		Logger:      observability.NewNopLogger(),
	})
	if err != nil {
		t.Fatalf("failed to build orchestrator: %v", err)
	}
	t.Cleanup(func() { orch.Close() })
	return orch
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
