// Package dal implements the multi-tier data access layer: an in-process
// L1 cache, a shared L2 cache, and a slow backing store, composed behind
// a single cache-aside orchestrator.
package dal

import (
	"encoding/json"
	"fmt"
	"time"
)

// Source identifies which tier served a read.
type Source int

const (
	SourceL1 Source = iota
	SourceL2
	SourceBackingStore
)

func (s Source) String() string {
	switch s {
	case SourceL1:
		return "l1"
	case SourceL2:
		return "l2"
	case SourceBackingStore:
		return "backing_store"
	default:
		return "unknown"
	}
}

// Entry is a cached value with its freshness timestamps. StaleAt marks the
// start of the stale-while-revalidate window; ExpiresAt marks hard expiry.
// Entries with StaleAt equal to ExpiresAt have no stale window.
type Entry struct {
	Key        string    `json:"key"`
	Value      []byte    `json:"value"`
	InsertedAt time.Time `json:"inserted_at"`
	StaleAt    time.Time `json:"stale_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Fresh reports whether the entry is inside its fresh window.
func (e *Entry) Fresh(now time.Time) bool {
	return now.Before(e.StaleAt)
}

// Stale reports whether the entry is servable but due for a refresh.
func (e *Entry) Stale(now time.Time) bool {
	return !now.Before(e.StaleAt) && now.Before(e.ExpiresAt)
}

// Expired reports whether the entry is past its hard expiry.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// newEntry builds an entry for a value stored at now with the given TTL and
// stale window. The entry turns stale staleWindow after insertion and expires
// at the TTL: with ttl=60s and staleWindow=45s the entry is fresh for 45s,
// then servable-but-revalidating until 60s. A zero stale window means the
// entry is fresh for its whole lifetime.
func newEntry(key string, value []byte, now time.Time, ttl, staleWindow time.Duration) Entry {
	if staleWindow <= 0 || staleWindow > ttl {
		staleWindow = ttl
	}
	return Entry{
		Key:        key,
		Value:      value,
		InsertedAt: now,
		StaleAt:    now.Add(staleWindow),
		ExpiresAt:  now.Add(ttl),
	}
}

// encodeEntry serializes an entry into the JSON envelope stored in L2 so
// every process sharing the tier agrees on freshness.
func encodeEntry(e Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode entry %q: %w", e.Key, err)
	}
	return data, nil
}

// decodeEntry parses an L2 envelope.
func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode entry: %w", err)
	}
	return e, nil
}
