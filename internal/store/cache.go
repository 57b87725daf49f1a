package store

import (
	"context"
	"sync"
	"time"

	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

type cacheEntry struct {
	set     prayer.TimeSet
	expires time.Time
}

// MemoryCache is an in-process prayer.Cache with per-entry TTL.
type MemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{data: make(map[string]cacheEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (prayer.TimeSet, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return prayer.TimeSet{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.data, key)
		return prayer.TimeSet{}, false, nil
	}
	return e.set, true, nil
}

// Put stores set under key. A non-positive ttl never expires.
func (c *MemoryCache) Put(_ context.Context, key string, set prayer.TimeSet, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{set: set}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}
