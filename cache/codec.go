package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Codec converts values of type V to and from the bytes a Cache stores.
type Codec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// JSONCodec encodes values with encoding/json.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[V]) Decode(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// BytesCodec stores byte slices as-is.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) ([]byte, error)    { return v, nil }
func (BytesCodec) Decode(data []byte) ([]byte, error) { return data, nil }

// Typed is a Cache view over values of type V.
type Typed[V any] struct {
	cache Cache
	codec Codec[V]
}

// NewTyped wraps c with codec. A nil codec selects JSONCodec.
func NewTyped[V any](c Cache, codec Codec[V]) (*Typed[V], error) {
	if c == nil {
		return nil, ErrNilCache
	}
	if codec == nil {
		codec = JSONCodec[V]{}
	}
	return &Typed[V]{cache: c, codec: codec}, nil
}

// Get returns the decoded value for key. An entry that fails to decode is
// deleted and reported as a miss.
func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, ok := t.cache.Get(ctx, key)
	if !ok {
		return zero, false
	}
	v, err := t.codec.Decode(data)
	if err != nil {
		_ = t.cache.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

// Set encodes v and stores it under key. Only encoding and key validation
// errors are returned.
func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	data, err := t.codec.Encode(v)
	if err != nil {
		return err
	}
	return t.cache.Set(ctx, key, data, ttl)
}

// Delete removes key.
func (t *Typed[V]) Delete(ctx context.Context, key string) error {
	return t.cache.Delete(ctx, key)
}

var (
	_ Codec[[]byte]         = BytesCodec{}
	_ Codec[map[string]any] = JSONCodec[map[string]any]{}
)
