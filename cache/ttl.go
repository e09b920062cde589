// Package cache provides an explicitly scoped in-memory TTL cache. Each
// cache is owned by the component that needs it, has a defined TTL, and
// supports explicit invalidation; there is no package-level shared state.
package cache

import (
	"sync"
	"time"
)

// TTL is a bounded-lifetime key/value cache. Entries expire after the
// configured TTL and are lazily evicted on read. The zero value is not
// usable; construct with NewTTL.
type TTL[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[K]entry[V]
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL creates a cache whose entries live for ttl. Non-positive TTLs
// disable caching entirely: Get always misses.
func NewTTL[K comparable, V any](ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[K]entry[V]),
	}
}

// Get returns the cached value for key if present and not expired.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	var zero V

	if c == nil || c.ttl <= 0 {
		return zero, false
	}

	c.mu.RLock()
	item, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return zero, false
	}

	if c.now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()

		return zero, false
	}

	return item.value, true
}

// Set stores value under key with a fresh TTL.
func (c *TTL[K, V]) Set(key K, value V) {
	if c == nil || c.ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate removes key from the cache.
func (c *TTL[K, V]) Invalidate(key K) {
	if c == nil {
		return
	}

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Purge removes every entry.
func (c *TTL[K, V]) Purge() {
	if c == nil {
		return
	}

	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.mu.Unlock()
}

// Len reports the number of stored entries, including not-yet-evicted
// expired ones.
func (c *TTL[K, V]) Len() int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
