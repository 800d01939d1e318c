package dal

import (
	"container/list"
	"path"
	"sync"
	"time"
)

// L1Cache is a per-namespace in-process LRU cache with strict capacity.
// Expired entries are evicted lazily on access, but kept (up to retention)
// so degraded reads can serve them when the backing store is down. A
// periodic Sweep removes entries expired past the retention window.
type L1Cache struct {
	mu         sync.Mutex
	maxEntries int
	retention  time.Duration

	ll    *list.List // front is most recently used
	items map[string]*list.Element

	evictions  int64
	expiredOut int64
}

// NewL1Cache creates an LRU cache holding at most maxEntries values.
// retention controls how long expired entries remain servable via GetStale.
func NewL1Cache(maxEntries int, retention time.Duration) *L1Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &L1Cache{
		maxEntries: maxEntries,
		retention:  retention,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Get returns the entry if it is fresh or stale. Expired entries are not
// returned here; they stay resident for GetStale until swept.
func (c *L1Cache) Get(key string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	entry := elem.Value.(Entry)
	if entry.Expired(now) {
		if now.After(entry.ExpiresAt.Add(c.retention)) {
			c.removeElement(elem)
			c.expiredOut++
		}
		return Entry{}, false
	}

	c.ll.MoveToFront(elem)
	return entry, true
}

// GetStale returns the entry even if it has expired, as long as it is still
// within the retention window. Used for degraded reads.
func (c *L1Cache) GetStale(key string, now time.Time) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Entry{}, false
	}
	entry := elem.Value.(Entry)
	if entry.Expired(now) && now.After(entry.ExpiresAt.Add(c.retention)) {
		c.removeElement(elem)
		c.expiredOut++
		return Entry{}, false
	}
	return entry, true
}

// Put inserts or replaces the entry. When the cache is full the least
// recently used entry is evicted before the insert, so the count never
// exceeds capacity.
func (c *L1Cache) Put(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[entry.Key]; ok {
		elem.Value = entry
		c.ll.MoveToFront(elem)
		return
	}

	for c.ll.Len() >= c.maxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.evictions++
	}

	c.items[entry.Key] = c.ll.PushFront(entry)
}

// Invalidate removes the key. Returns whether it was present.
func (c *L1Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// InvalidatePattern removes all keys matching the glob pattern (e.g.
// "prices/*"). Returns the number of removed entries.
func (c *L1Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Sweep removes entries expired beyond the retention window. Returns the
// number removed.
func (c *L1Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, elem := range c.items {
		entry := elem.Value.(Entry)
		if entry.Expired(now) && now.After(entry.ExpiresAt.Add(c.retention)) {
			c.removeElement(elem)
			removed++
		}
	}
	c.expiredOut += int64(removed)
	return removed
}

// Len returns the number of resident entries, expired ones included.
func (c *L1Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Evictions returns the number of capacity evictions since creation.
func (c *L1Cache) Evictions() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictions
}

// Clear drops every entry.
func (c *L1Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *L1Cache) removeElement(elem *list.Element) {
	entry := elem.Value.(Entry)
	c.ll.Remove(elem)
	delete(c.items, entry.Key)
}
