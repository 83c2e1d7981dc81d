// Package redis implements research.Cache on Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Cache stores values under Prefix+key with a TTL.
type Cache struct {
	client *goredis.Client
	prefix string
	owned  bool
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("cache.redis_addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	c := NewWithClient(client, cfg.Prefix)
	c.owned = true
	return c, nil
}

// NewWithClient wraps an existing client. The caller keeps ownership.
func NewWithClient(client *goredis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set stores value with ttl; a non-positive ttl means no expiry.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping reports whether Redis answers.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the client when the cache created it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
