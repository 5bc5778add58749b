package out

import (
	"context"
	"time"
)

// Producer computes a cache value on miss.
type Producer func(ctx context.Context) (string, error)

// Cache is a named key/value store for small aggregate values. Backends are
// pluggable (in-process map by default, Redis when configured) and must
// tolerate transient unavailability by degrading to recomputation.
type Cache interface {
	// Get returns the value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// GetOrCreate returns the cached value, running produce at most once
	// per concurrent miss for the same key. ttl <= 0 means no expiry.
	GetOrCreate(ctx context.Context, key string, ttl time.Duration, produce Producer) (string, error)

	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeleteMulti(ctx context.Context, keys []string) error
}
