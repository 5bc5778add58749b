package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"archive_server/core/port/out"
)

// RedisCache is the network-distributed backend. Backend errors degrade to
// recomputation and are logged, never propagated to callers.
type RedisCache struct {
	client *redis.Client
	flight singleflight.Group
	log    zerolog.Logger
}

func NewRedisCache(client *redis.Client, log zerolog.Logger) *RedisCache {
	return &RedisCache{client: client, log: log}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache backend get failed")
		return "", false, nil
	}
	return value, true, nil
}

func (c *RedisCache) GetOrCreate(ctx context.Context, key string, ttl time.Duration, produce out.Producer) (string, error) {
	if value, ok, _ := c.Get(ctx, key); ok {
		return value, nil
	}
	value, err, _ := c.flight.Do(key, func() (any, error) {
		if value, ok, _ := c.Get(ctx, key); ok {
			return value, nil
		}
		value, err := produce(ctx)
		if err != nil {
			return "", err
		}
		if err := c.Set(ctx, key, value, ttl); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("cache backend set failed")
		}
		return value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // redis: 0 means no expiry
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("cache backend delete failed")
	}
	return nil
}

func (c *RedisCache) DeleteMulti(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Strs("keys", keys).Msg("cache backend delete failed")
	}
	return nil
}

var _ out.Cache = (*RedisCache)(nil)
