// Package infra provides shared infrastructure components: a bounded TTL
// cache and a token-bucket rate limiter.
package infra

import (
	"container/list"
	"sync"
	"time"
)

// --- Bounded TTL cache ---

type cacheEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory cache with a per-entry TTL and a
// maximum size. When full, the least recently used entry is evicted.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize entries with the given
// default TTL. maxSize <= 0 means unbounded.
func NewCache[V any](maxSize int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// WithClock replaces the cache's time source. Intended for tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// Get retrieves a value. Expired entries are removed and reported missing.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*cacheEntry[V])
	if c.now().After(e.expiresAt) {
		c.remove(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return e.value, true
}

// Set stores a value with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&cacheEntry[V]{key: key, value: value, expiresAt: expiresAt})
	for c.maxSize > 0 && c.order.Len() > c.maxSize {
		c.remove(c.order.Back())
	}
}

// Invalidate removes a key from the cache.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Flush removes all entries.
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *Cache[V]) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	dropped := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*cacheEntry[V]).expiresAt) {
			c.remove(el)
			dropped++
		}
		el = prev
	}
	return dropped
}

// Len returns the number of entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// remove unlinks el. mu must be held.
func (c *Cache[V]) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry[V]).key)
}
