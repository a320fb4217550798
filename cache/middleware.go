package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// KeyFunc derives the cache key for one call's arguments.
type KeyFunc[A any] func(args A) (string, error)

// KeyFromKeyer adapts a Keyer to a KeyFunc scoped to namespace.
func KeyFromKeyer[A any](k Keyer, namespace string) KeyFunc[A] {
	return func(args A) (string, error) {
		return k.Key(namespace, args)
	}
}

// Cached returns op wrapped with cache-aside caching in c.
//
// Hits are served without calling op. Concurrent misses for the same key
// share a single call to op, which runs under a context detached from any one
// caller's cancellation; a caller whose ctx ends stops waiting with ctx.Err().
// Errors are never cached, and if the key cannot be derived op runs uncached.
func Cached[A, V any](c *Typed[V], key KeyFunc[A], ttl time.Duration, op func(context.Context, A) (V, error)) func(context.Context, A) (V, error) {
	var group singleflight.Group

	return func(ctx context.Context, args A) (V, error) {
		k, err := key(args)
		if err != nil || ValidateKey(k) != nil {
			return op(ctx, args)
		}

		if v, ok := c.Get(ctx, k); ok {
			return v, nil
		}

		ch := group.DoChan(k, func() (any, error) {
			shared := context.WithoutCancel(ctx)
			v, err := op(shared, args)
			if err != nil {
				return v, err
			}
			_ = c.Set(shared, k, v, ttl)
			return v, nil
		})
		select {
		case res := <-ch:
			v, _ := res.Val.(V)
			return v, res.Err
		case <-ctx.Done():
			var zero V
			return zero, ctx.Err()
		}
	}
}
