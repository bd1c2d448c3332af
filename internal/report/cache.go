package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyra/logan/internal/config"
	"github.com/cyra/logan/internal/logging"
)

const cachePrefix = "logan:report:"

// Cache stores rendered report results in Redis for a short TTL. A nil
// *Cache is valid and never caches.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCache connects to Redis when an address is configured. It returns a
// nil Cache when caching is disabled.
func NewCache(ctx context.Context, cfg config.CacheConfig, logger *logging.Logger) (*Cache, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return &Cache{rdb: rdb, ttl: cfg.TTL, logger: logger}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// Cached returns the value stored under key, or calls load and stores its
// result. Redis failures are logged and fall through to load.
func Cached[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}
	key = cachePrefix + key

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		c.logger.Warnf("cache: discarding undecodable entry %s", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warnf("cache: get %s: %v", key, err)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if data, err := json.Marshal(v); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warnf("cache: set %s: %v", key, err)
		}
	}
	return v, nil
}
