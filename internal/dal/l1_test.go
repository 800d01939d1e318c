package dal

import (
	"fmt"
	"testing"
	"time"
)

func testEntry(key string, now time.Time, ttl, staleWindow time.Duration) Entry {
	return newEntry(key, []byte("v:"+key), now, ttl, staleWindow)
}

func TestL1CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(2, time.Minute)

	cache.Put(testEntry("a", now, time.Minute, 0))
	cache.Put(testEntry("b", now, time.Minute, 0))
	cache.Put(testEntry("c", now, time.Minute, 0))

	if cache.Len() != 2 {
		t.Fatalf("expected 2 resident entries, got %d", cache.Len())
	}
	if _, ok := cache.Get("a", now); ok {
		t.Error("expected a, the least recently used, to be evicted")
	}
	if _, ok := cache.Get("b", now); !ok {
		t.Error("expected b to survive")
	}
	if _, ok := cache.Get("c", now); !ok {
		t.Error("expected c to survive")
	}
	if cache.Evictions() != 1 {
		t.Errorf("expected 1 eviction, got %d", cache.Evictions())
	}

	t.Log("✓ inserting beyond capacity evicted the LRU entry")
}

func TestL1AccessRefreshesRecency(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(2, time.Minute)

	cache.Put(testEntry("a", now, time.Minute, 0))
	cache.Put(testEntry("b", now, time.Minute, 0))

	// Touch a so b becomes the LRU.
	if _, ok := cache.Get("a", now); !ok {
		t.Fatal("expected a present")
	}

	cache.Put(testEntry("c", now, time.Minute, 0))

	if _, ok := cache.Get("b", now); ok {
		t.Error("expected b to be evicted after a was touched")
	}
	if _, ok := cache.Get("a", now); !ok {
		t.Error("expected a to survive")
	}

	t.Log("✓ access order drives eviction")
}

func TestL1CapacityNeverExceeded(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(10, time.Minute)

	for i := 0; i < 100; i++ {
		cache.Put(testEntry(fmt.Sprintf("k%d", i), now, time.Minute, 0))
		if cache.Len() > 10 {
			t.Fatalf("capacity exceeded: %d entries after insert %d", cache.Len(), i)
		}
	}

	t.Log("✓ entry count never exceeded capacity")
}

func TestL1LazyExpiration(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(10, time.Minute)

	cache.Put(testEntry("a", now, 100*time.Millisecond, 0))

	if _, ok := cache.Get("a", now); !ok {
		t.Fatal("expected fresh entry to be returned")
	}

	later := now.Add(200 * time.Millisecond)
	if _, ok := cache.Get("a", later); ok {
		t.Error("expected expired entry to be treated as a miss")
	}

	// Expired but within retention: still resident for degraded reads.
	if _, ok := cache.GetStale("a", later); !ok {
		t.Error("expected expired entry to remain servable via GetStale")
	}

	// Beyond retention the entry is gone entirely.
	muchLater := now.Add(2 * time.Minute)
	if _, ok := cache.GetStale("a", muchLater); ok {
		t.Error("expected entry to be dropped after retention")
	}

	t.Log("✓ expired entries miss on Get but serve via GetStale within retention")
}

func TestL1StaleWindow(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(10, time.Minute)

	// Fresh for 45s, stale from 45s to 60s.
	cache.Put(testEntry("a", now, 60*time.Second, 45*time.Second))

	entry, ok := cache.Get("a", now.Add(30*time.Second))
	if !ok || !entry.Fresh(now.Add(30*time.Second)) {
		t.Fatal("expected fresh entry at t+30s")
	}

	entry, ok = cache.Get("a", now.Add(50*time.Second))
	if !ok {
		t.Fatal("expected stale entry at t+50s to be served")
	}
	if !entry.Stale(now.Add(50 * time.Second)) {
		t.Error("expected entry to report stale at t+50s")
	}

	if _, ok := cache.Get("a", now.Add(61*time.Second)); ok {
		t.Error("expected expired entry at t+61s to miss")
	}

	t.Log("✓ fresh, stale and expired phases behave per TTL and stale window")
}

func TestL1InvalidatePattern(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(10, time.Minute)

	cache.Put(testEntry("prices/btc", now, time.Minute, 0))
	cache.Put(testEntry("prices/eth", now, time.Minute, 0))
	cache.Put(testEntry("news/latest", now, time.Minute, 0))

	removed := cache.InvalidatePattern("prices/*")
	if removed != 2 {
		t.Fatalf("expected 2 removals, got %d", removed)
	}
	if _, ok := cache.Get("news/latest", now); !ok {
		t.Error("expected unrelated key to survive")
	}

	t.Log("✓ glob invalidation removed only matching keys")
}

func TestL1SweepRemovesLongExpired(t *testing.T) {
	now := time.Now()
	cache := NewL1Cache(10, 50*time.Millisecond)

	cache.Put(testEntry("old", now.Add(-time.Minute), 10*time.Millisecond, 0))
	cache.Put(testEntry("live", now, time.Minute, 0))

	removed := cache.Sweep(now)
	if removed != 1 {
		t.Fatalf("expected 1 swept entry, got %d", removed)
	}
	if cache.Len() != 1 {
		t.Errorf("expected 1 resident entry, got %d", cache.Len())
	}

	t.Log("✓ sweep removed entries expired past retention")
}
