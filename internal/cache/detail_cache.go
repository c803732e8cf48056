// Package cache provides the Redis-backed per-document detail cache.
// Entries are invalidated whenever a mutation touches their document.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type DetailCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDetailCache(redisURL string, ttl time.Duration) (*DetailCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDetailCacheWithClient(client, ttl), nil
}

// NewDetailCacheWithClient creates a cache from an existing Redis client.
func NewDetailCacheWithClient(client *redis.Client, ttl time.Duration) *DetailCache {
	return &DetailCache{
		client: client,
		prefix: "detail:",
		ttl:    ttl,
	}
}

func (c *DetailCache) key(documentKey string) string {
	return c.prefix + documentKey
}

// Get loads a cached detail payload into target. The bool reports whether
// the key was present.
func (c *DetailCache) Get(ctx context.Context, documentKey string, target any) (bool, error) {
	payload, err := c.client.Get(ctx, c.key(documentKey)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get detail %s: %w", documentKey, err)
	}
	if err := json.Unmarshal([]byte(payload), target); err != nil {
		return false, fmt.Errorf("unmarshal detail %s: %w", documentKey, err)
	}
	return true, nil
}

func (c *DetailCache) Put(ctx context.Context, documentKey string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal detail %s: %w", documentKey, err)
	}
	if err := c.client.Set(ctx, c.key(documentKey), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("save detail %s: %w", documentKey, err)
	}
	return nil
}

// Invalidate drops the cached detail for one document.
func (c *DetailCache) Invalidate(ctx context.Context, documentKey string) error {
	if err := c.client.Del(ctx, c.key(documentKey)).Err(); err != nil {
		return fmt.Errorf("invalidate detail %s: %w", documentKey, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (c *DetailCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *DetailCache) Close() error {
	return c.client.Close()
}
