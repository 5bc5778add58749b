// Package cache provides the aggregate-value cache backends: an in-process
// map (default) and Redis. Both give get_or_create single-flight semantics.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"archive_server/core/port/out"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is the in-process backend. Safe for concurrent use.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	flight  singleflight.Group
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, produce out.Producer) (string, error) {
	if value, ok, _ := c.Get(ctx, key); ok {
		return value, nil
	}
	value, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check: another flight may have populated the key while
		// this call waited.
		if value, ok, _ := c.Get(ctx, key); ok {
			return value, nil
		}
		value, err := produce(ctx)
		if err != nil {
			return "", err
		}
		if err := c.Set(ctx, key, value, ttl); err != nil {
			return "", err
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (c *MemoryCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) DeleteMulti(ctx context.Context, keys []string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

var _ out.Cache = (*MemoryCache)(nil)
