package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// TTLCache is a sharded in-process cache with per-entry expiry.
// Readers tolerate staleness inside the TTL window; last write wins.
type TTLCache struct {
	shards [numShards]*shard
}

type shard struct {
	mu    sync.RWMutex
	items map[string]entry
}

type entry struct {
	value     any
	expiresAt time.Time
}

// New creates an empty TTLCache.
func New() *TTLCache {
	c := &TTLCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &shard{items: make(map[string]entry)}
	}
	return c
}

func (c *TTLCache) getShard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Set stores a value that expires after ttl.
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	s := c.getShard(key)
	s.mu.Lock()
	s.items[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Get returns the value if present and not expired.
func (c *TTLCache) Get(key string) (any, bool) {
	s := c.getShard(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Delete removes a key.
func (c *TTLCache) Delete(key string) {
	s := c.getShard(key)
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
}

// Len counts resident entries, expired or not. Useful for metrics only.
func (c *TTLCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
