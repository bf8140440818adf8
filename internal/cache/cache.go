// Package cache provides a small TTL key-value store shared by the query
// services. Entries are replaced as whole values, never mutated in place,
// so concurrent readers only ever see complete results.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value    any
	storedAt time.Time
}

type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]entry
	disabled bool
	now      func() time.Time
}

func New(ttl time.Duration) *Cache {
	return NewWithClock(ttl, time.Now)
}

// NewWithClock exists for tests that need to control expiry.
func NewWithClock(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     now,
	}
}

// Get returns the cached value for key. Expiry is lazy: an entry past its
// TTL is dropped on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return nil, false
	}
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disabled {
		return
	}
	c.entries[key] = entry{value: value, storedAt: c.now()}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Disable turns caching off and drops everything already stored.
func (c *Cache) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = true
	c.entries = make(map[string]entry)
}

func (c *Cache) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = false
}

// Sweep proactively removes expired entries and reports how many were
// dropped, so memory is reclaimed without waiting for lazy reads.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	cutoff := c.now()
	for key, e := range c.entries {
		if cutoff.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
