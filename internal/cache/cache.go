// Package cache implements the External Cache Adapter (C10): an optional
// read-through cache in front of slow-changing, expensive remote-directory
// reads (capability statements), keyed by (directory_id, operation,
// param-hash) with a configurable TTL, per spec.md §4.10/§6.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection backing the cache and the default
// expiration applied to every entry.
type Config struct {
	RedisAddr string        `koanf:"redisaddr"`
	TTL       time.Duration `koanf:"ttl"`
}

// IsConfigured reports whether the cache has enough configuration to connect.
func (c Config) IsConfigured() bool {
	return c.RedisAddr != ""
}

// Store is the read-through cache's collaborator surface, backed by Redis in
// production; tests substitute a fake implementing the same interface
// instead of standing up a real Redis server.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context, key string) error
}

// Cache is the Redis-backed Store (C10).
type Cache struct {
	backed *gocache.Cache[[]byte]
	ttl    time.Duration
}

var _ Store = (*Cache)(nil)

// New connects to Redis and wraps it as a Cache.
func New(config Config) (*Cache, error) {
	if !config.IsConfigured() {
		return nil, fmt.Errorf("cache configuration is incomplete: redisaddr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: config.RedisAddr})
	redisStore := redisstore.NewRedis(client, store.WithExpiration(config.TTL))
	return &Cache{backed: gocache.New[[]byte](redisStore), ttl: config.TTL}, nil
}

// Key derives a deterministic cache key from a directory id, an operation
// name, and the operation's parameters, hashing the parameters so an
// arbitrarily large query never blows out the key length.
func Key(directoryID, operation string, params any) (string, error) {
	paramBytes, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("hash cache key params: %w", err)
	}
	sum := sha256.Sum256(paramBytes)
	return fmt.Sprintf("%s:%s:%s", directoryID, operation, hex.EncodeToString(sum[:])), nil
}

// Get returns the cached payload for key, or ok=false on a cache miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.backed.Get(ctx, key)
	if err != nil {
		var notFound *store.NotFound
		if errors.As(err, &notFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, true, nil
}

// Put stores value under key with the cache's configured TTL.
func (c *Cache) Put(ctx context.Context, key string, value []byte) error {
	if err := c.backed.Set(ctx, key, value, store.WithExpiration(c.ttl)); err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

// Invalidate evicts key, e.g. after a directory's capability statement is
// known to have changed.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.backed.Delete(ctx, key); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}
