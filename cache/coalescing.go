package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// CoalescingCache is the eviction-capable backend: a size- and TTL-bounded
// LRU fronted by singleflight. Concurrent misses for the same key run one
// compute, and every waiter observes the same result - including the same
// error value when the compute fails. Failed computes are never stored.
type CoalescingCache[K comparable, V any] struct {
	group singleflight.Group
	lru   *expirable.LRU[K, V]
	keyFn func(K) string
}

// NewCoalescingCache creates a cache holding at most size entries, each
// expiring ttl after insertion (a ttl of zero disables expiry). keyFn maps
// cache keys to singleflight strings; pass nil for the default fmt-based
// rendering, which is correct for any comparable key with a stable format.
func NewCoalescingCache[K comparable, V any](size int, ttl time.Duration, keyFn func(K) string) *CoalescingCache[K, V] {
	if keyFn == nil {
		keyFn = func(key K) string { return fmt.Sprintf("%v", key) }
	}

	return &CoalescingCache[K, V]{
		lru:   expirable.NewLRU[K, V](size, nil, ttl),
		keyFn: keyFn,
	}
}

// TryGetWith returns the cached value for key, or runs compute under
// singleflight and caches the result on success.
func (c *CoalescingCache[K, V]) TryGetWith(ctx context.Context, key K, compute func(ctx context.Context) (V, error)) (V, error) {
	if cached, ok := c.lru.Get(key); ok {
		return cached, nil
	}

	result, err, _ := c.group.Do(c.keyFn(key), func() (any, error) {
		// Another flight may have populated the entry while we queued.
		if cached, ok := c.lru.Get(key); ok {
			return cached, nil
		}

		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}

		c.lru.Add(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}

	return result.(V), nil
}

// Len returns the number of live entries.
func (c *CoalescingCache[K, V]) Len() int {
	return c.lru.Len()
}
