// Package cache provides a small in-process TTL cache.
//
// It replaces ad-hoc module-level memoization maps with an explicit object:
// the TTL and clock are injected so tests can control expiry, and Reset gives
// deterministic invalidation between test cases.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a concurrency-safe cache whose entries expire after a fixed duration.
type TTL[K comparable, V any] struct {
	ttl     time.Duration
	nowFn   func() time.Time
	mu      sync.RWMutex
	entries map[K]entry[V]
}

// Option configures a TTL cache.
type Option[K comparable, V any] func(*TTL[K, V])

// WithClock injects a clock, used by tests to control expiry.
func WithClock[K comparable, V any](nowFn func() time.Time) Option[K, V] {
	return func(c *TTL[K, V]) {
		c.nowFn = nowFn
	}
}

// New creates a TTL cache. Entries live for ttl after each Set.
func New[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *TTL[K, V] {
	c := &TTL[K, V]{
		ttl:     ttl,
		nowFn:   time.Now,
		entries: make(map[K]entry[V]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key if present and unexpired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.nowFn().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, resetting its expiry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.nowFn().Add(c.ttl)}
}

// GetOrFill returns the cached value, or calls fill and caches its result.
// Errors from fill are returned unchanged and nothing is cached.
func (c *TTL[K, V]) GetOrFill(key K, fill func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := fill()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes a single key.
func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset drops every entry.
func (c *TTL[K, V]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries. Callers that hold large caches for a long
// time should run this on a timer; short-lived caches can skip it since Get
// already ignores expired entries.
func (c *TTL[K, V]) Sweep() {
	now := c.nowFn()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
