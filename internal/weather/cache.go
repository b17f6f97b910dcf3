package weather

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
)

// Cache stores rendered weather reports by normalized city.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// MemoryCache is a size-bounded in-process cache with per-entry expiry.
type MemoryCache struct {
	cache *lru.Cache
	mu    sync.RWMutex
	now   func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryCache creates an LRU cache holding up to size reports.
func NewMemoryCache(size int) (*MemoryCache, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{cache: cache, now: time.Now}, nil
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	val, found := c.cache.Get(key)
	c.mu.RUnlock()
	if !found {
		return "", false, nil
	}

	entry := val.(cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		c.cache.Remove(key)
		c.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(key, cacheEntry{value: value, expiresAt: c.now().Add(ttl)})
	return nil
}

// RedisCache shares reports between instances through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to addr, which may be a host:port or a
// redis:// URL.
func NewRedisCache(ctx context.Context, addr, prefix string) (*RedisCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address must be provided")
	}
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return val, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+key, value, ttl).Err()
}

// Close releases the connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
