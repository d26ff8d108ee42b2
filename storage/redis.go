package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efsf/efsf-go/interfaces"
)

// DefaultKeyPrefix namespaces framework keys inside a shared Redis.
const DefaultKeyPrefix = "efsf:"

// RedisBackend stores entries in Redis, relying on its native key expiry
// to enforce TTLs.
type RedisBackend struct {
	client    *redis.Client
	keyPrefix string
	log       *slog.Logger
}

// NewRedisBackend wraps an existing Redis client. An empty keyPrefix
// falls back to DefaultKeyPrefix.
func NewRedisBackend(client *redis.Client, keyPrefix string, log *slog.Logger) *RedisBackend {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBackend{client: client, keyPrefix: keyPrefix, log: log}
}

// Set stores the value with Redis-enforced expiry. TTLs are rounded up
// to whole seconds so the backend never expires an entry early.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 {
		ttl = ceilSeconds(ttl)
	} else {
		ttl = 0 // no expiry
	}
	if err := b.client.Set(ctx, b.keyPrefix+key, value, ttl).Err(); err != nil {
		return &interfaces.BackendError{Backend: b.Name(), Op: "set", Err: err}
	}
	return nil
}

// Get retrieves the value for key.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := b.client.Get(ctx, b.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrKeyNotFound
	}
	if err != nil {
		return nil, &interfaces.BackendError{Backend: b.Name(), Op: "get", Err: err}
	}
	return value, nil
}

// Delete removes the key.
func (b *RedisBackend) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := b.client.Del(ctx, b.keyPrefix+key).Result()
	if err != nil {
		return false, &interfaces.BackendError{Backend: b.Name(), Op: "delete", Err: err}
	}
	return removed > 0, nil
}

// Exists reports whether the key is live.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.keyPrefix+key).Result()
	if err != nil {
		return false, &interfaces.BackendError{Backend: b.Name(), Op: "exists", Err: err}
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of key.
func (b *RedisBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := b.client.TTL(ctx, b.keyPrefix+key).Result()
	if err != nil {
		return 0, &interfaces.BackendError{Backend: b.Name(), Op: "ttl", Err: err}
	}
	// go-redis passes the TTL reply sentinels through unscaled, as raw
	// Duration(-2) and Duration(-1).
	switch ttl {
	case -2: // key does not exist
		return 0, interfaces.ErrKeyNotFound
	case -1: // key exists without expiry
		return 0, nil
	}
	return ttl, nil
}

// Name returns the backend identifier.
func (b *RedisBackend) Name() string { return "redis" }

// Close closes the underlying client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func ceilSeconds(d time.Duration) time.Duration {
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
