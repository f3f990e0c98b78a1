package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/allthingslinux/tux/pkg/log"
)

// KeyPrefix namespaces every key so the bot can share a Valkey instance
// with other tenants.
const KeyPrefix = "tux:"

// ValkeyBackend stores cache entries in a Redis-compatible server.
type ValkeyBackend struct {
	rdb *redis.Client
}

// NewValkeyBackend connects to the Valkey endpoint described by rawURL
// (redis:// or rediss://) and verifies connectivity with a bounded ping.
func NewValkeyBackend(ctx context.Context, rawURL string) (*ValkeyBackend, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse valkey url: %w", err)
	}
	opts.DialTimeout = 3 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: valkey ping failed: %w", err)
	}
	return &ValkeyBackend{rdb: rdb}, nil
}

// prefixed applies KeyPrefix without doubling it for callers that already
// pass a namespaced key.
func prefixed(key string) string {
	if strings.HasPrefix(key, KeyPrefix) {
		return key
	}
	return KeyPrefix + key
}

func (v *ValkeyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := v.rdb.Get(ctx, prefixed(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: valkey get %q: %w", key, err)
	}
	return val, true, nil
}

func (v *ValkeyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := v.rdb.Set(ctx, prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: valkey set %q: %w", key, err)
	}
	return nil
}

func (v *ValkeyBackend) Delete(ctx context.Context, key string) error {
	if err := v.rdb.Del(ctx, prefixed(key)).Err(); err != nil {
		return fmt.Errorf("cache: valkey del %q: %w", key, err)
	}
	return nil
}

func (v *ValkeyBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := v.rdb.Exists(ctx, prefixed(key)).Result()
	if err != nil {
		return false, fmt.Errorf("cache: valkey exists %q: %w", key, err)
	}
	return n > 0, nil
}

func (v *ValkeyBackend) Close() error {
	return v.rdb.Close()
}

// Open returns the best available backend for the given Valkey URL. An empty
// URL or a failed connection yields the in-memory backend; correctness never
// depends on the remote cache being reachable.
func Open(ctx context.Context, valkeyURL string, memorySize int) Backend {
	logger := log.Component("cache")
	if valkeyURL == "" {
		logger.Info("no valkey url configured, using in-memory cache")
		return NewMemoryBackend(memorySize)
	}
	backend, err := NewValkeyBackend(ctx, valkeyURL)
	if err != nil {
		logger.Warn("valkey unavailable, falling back to in-memory cache", "error", err)
		return NewMemoryBackend(memorySize)
	}
	logger.Info("connected to valkey cache")
	return backend
}
