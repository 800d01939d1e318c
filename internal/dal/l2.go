package dal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/averko/marketpulse/internal/platform/observability"
	"github.com/averko/marketpulse/internal/platform/resilience"
)

// Tier is the shared second-level cache contract. Entries carry their own
// freshness timestamps so every process sharing the tier agrees on staleness.
type Tier interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
	Close() error
}

// RedisTier implements Tier on Redis, storing entries as JSON envelopes.
// Operations run through the retry executor since Redis is a network hop.
type RedisTier struct {
	client  *redis.Client
	retrier *resilience.Executor
	logger  *observability.Logger
}

// RedisTierConfig holds Redis tier configuration
type RedisTierConfig struct {
	Address  string
	Password string
	DB       int
	Retrier  *resilience.Executor
	Logger   *observability.Logger
}

// NewRedisTier creates a Redis-backed tier and verifies connectivity.
func NewRedisTier(ctx context.Context, cfg RedisTierConfig) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis tier: ping failed: %w", err)
	}

	return &RedisTier{
		client:  client,
		retrier: cfg.Retrier,
		logger:  cfg.Logger,
	}, nil
}

// Get returns the entry for key, or ErrNotFound.
func (t *RedisTier) Get(ctx context.Context, key string) (Entry, error) {
	data, err := resilience.Execute(t.retrier, ctx, "l2_get", func(ctx context.Context) ([]byte, error) {
		data, err := t.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, resilience.Permanent(ErrNotFound)
		}
		return data, err
	})
	if err != nil {
		return Entry{}, err
	}

	entry, err := decodeEntry(data)
	if err != nil {
		// A corrupt envelope is as good as a miss. Drop it so the next
		// write repopulates cleanly.
		t.logger.LogWarn(ctx, "dropping corrupt l2 entry", "key", key, "error", err.Error())
		t.client.Del(ctx, key)
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// Put stores the entry. The Redis TTL should exceed the entry's logical
// expiry so expired envelopes remain fetchable for degraded reads.
func (t *RedisTier) Put(ctx context.Context, entry Entry, ttl time.Duration) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}

	return t.retrier.Do(ctx, "l2_put", func(ctx context.Context) error {
		return t.client.Set(ctx, entry.Key, data, ttl).Err()
	})
}

// Delete removes the key. Deleting an absent key is not an error.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	return t.retrier.Do(ctx, "l2_delete", func(ctx context.Context) error {
		return t.client.Del(ctx, key).Err()
	})
}

// DeletePattern removes all keys matching the glob pattern using SCAN so
// large keyspaces are not blocked.
func (t *RedisTier) DeletePattern(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	iter := t.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := t.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("redis tier: delete %q: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis tier: scan %q: %w", pattern, err)
	}
	return deleted, nil
}

// Ping verifies the Redis connection is alive.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (t *RedisTier) Close() error {
	return t.client.Close()
}
