package cache

import (
	"context"
	"sync"
	"time"
)

// memoryCache is the in-process fallback used when no Valkey server is
// configured, and in tests. Expired entries are dropped lazily on read and
// by a coarse sweep on write.
type memoryCache struct {
	mu       sync.RWMutex
	items    map[string]memoryItem
	maxItems int
}

type memoryItem struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory returns an in-memory Cache bounded to maxItems entries.
func NewMemory(maxItems int) Cache {
	if maxItems <= 0 {
		maxItems = 4096
	}
	return &memoryCache{
		items:    make(map[string]memoryItem),
		maxItems: maxItems,
	}
}

func (c *memoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, nil
	}
	return item.data, nil
}

func (c *memoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxItems {
		c.evictLocked()
	}
	c.items[key] = memoryItem{data: value, expiresAt: expires}
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

func (c *memoryCache) Health(ctx context.Context) error { return nil }

func (c *memoryCache) Close() error {
	c.mu.Lock()
	c.items = make(map[string]memoryItem)
	c.mu.Unlock()
	return nil
}

// evictLocked drops expired entries first, then the soonest-expiring entry
// if the map is still full. Caller holds the write lock.
func (c *memoryCache) evictLocked() {
	now := time.Now()
	for k, item := range c.items {
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			delete(c.items, k)
		}
	}
	if len(c.items) < c.maxItems {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, item := range c.items {
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey = k
			oldest = item.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
