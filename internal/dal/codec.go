package dal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Codec converts typed values to and from the byte payloads the tiers store.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// GetAs reads a key and decodes it into T using the JSON codec.
func GetAs[T any](ctx context.Context, o *Orchestrator, namespace, key string) (T, Result, error) {
	var out T
	res, err := o.Get(ctx, namespace, key)
	if err != nil {
		return out, res, err
	}
	if err := (JSONCodec{}).Unmarshal(res.Value, &out); err != nil {
		return out, res, err
	}
	return out, res, nil
}

// PutAs encodes v with the JSON codec and writes it under key.
func PutAs[T any](ctx context.Context, o *Orchestrator, namespace, key string, v T) error {
	data, err := (JSONCodec{}).Marshal(v)
	if err != nil {
		return err
	}
	return o.Put(ctx, namespace, key, data)
}

// PutAsTTL is PutAs with a cache TTL override.
func PutAsTTL[T any](ctx context.Context, o *Orchestrator, namespace, key string, v T, ttl time.Duration) error {
	data, err := (JSONCodec{}).Marshal(v)
	if err != nil {
		return err
	}
	return o.PutTTL(ctx, namespace, key, data, ttl)
}
