// Package cache provides the memoization backends used by the client:
// a pass-through no-op, an unbounded in-memory map, and a coalescing
// eviction-aware cache. All of them satisfy interfaces.Cache and are
// interchangeable.
package cache

import (
	"context"
	"sync"
)

// NoCache computes on every call and stores nothing. It is the default
// backend: the client stays correct without any memoization.
type NoCache[K comparable, V any] struct{}

// TryGetWith invokes compute unconditionally.
func (NoCache[K, V]) TryGetWith(ctx context.Context, _ K, compute func(ctx context.Context) (V, error)) (V, error) {
	return compute(ctx)
}

// MapCache memoizes successful computes in an unbounded map. Entries are
// never evicted, so it suits short-lived tooling and tests rather than
// long-running services.
//
// Concurrent misses for the same key are not coalesced: each caller runs its
// own compute and the last success wins. Failed computes are not stored.
type MapCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V
}

// NewMapCache creates an empty MapCache.
func NewMapCache[K comparable, V any]() *MapCache[K, V] {
	return &MapCache[K, V]{entries: make(map[K]V)}
}

// TryGetWith returns the cached value for key, or runs compute and caches the
// result on success.
func (c *MapCache[K, V]) TryGetWith(ctx context.Context, key K, compute func(ctx context.Context) (V, error)) (V, error) {
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	value, err := compute(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries[key] = value
	c.mu.Unlock()

	return value, nil
}

// Len returns the number of cached entries.
func (c *MapCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
