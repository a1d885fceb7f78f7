package memory

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Cache is an in-process implementation of app.Cache. Values are stored as JSON
// so readers never share memory with writers, matching the Redis adapter.
type Cache struct {
	clock func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	data      []byte
	expiresAt time.Time // zero means no expiry
}

func NewCache() *Cache {
	return &Cache{clock: time.Now, entries: make(map[string]cacheEntry)}
}

func (c *Cache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && !entry.expiresAt.After(c.clock()) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(entry.data, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := cacheEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = c.clock().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *Cache) Remove(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
