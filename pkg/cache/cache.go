package cache

import (
	"strings"
	"sync"
	"time"
)

type item struct {
	value    any
	deadline time.Time
}

func (it item) liveAt(t time.Time) bool { return t.Before(it.deadline) }

// Cache is an in-process key/value store where every key carries a TTL.
// It backs the memory variants of the staged upload store and relay dedup.
type Cache struct {
	mu    sync.Mutex
	items map[string]item
	now   func() time.Time
}

func New() *Cache {
	return &Cache{items: make(map[string]item), now: time.Now}
}

func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	c.items[key] = item{value: value, deadline: c.now().Add(ttl)}
	c.mu.Unlock()
}

// SetNX stores value unless a live entry already holds key. It reports
// whether the value was stored.
func (c *Cache) SetNX(key string, value any, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if it, ok := c.items[key]; ok && it.liveAt(now) {
		return false
	}
	c.items[key] = item{value: value, deadline: now.Add(ttl)}
	return true
}

// Get returns the value for key. Expired entries are dropped on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if !it.liveAt(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return it.value, true
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Snapshot copies the live entries under prefix
func (c *Cache) Snapshot(prefix string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	out := make(map[string]any)
	for k, it := range c.items {
		if strings.HasPrefix(k, prefix) && it.liveAt(now) {
			out[k] = it.value
		}
	}
	return out
}

// Purge evicts expired entries and returns the count
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, it := range c.items {
		if !it.liveAt(now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len counts entries, expired ones included until they are purged or read
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
