// redis.go adapts the go-redis client to the KV interface.
package history

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds connection settings for the Redis-backed KV.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `yaml:"addr"`

	// Password authenticates with the server (empty for none).
	Password string `yaml:"password"`

	// DB selects the logical database.
	DB int `yaml:"db"`

	// TLS enables a TLS connection without certificate verification, the
	// way managed Redis offerings commonly expose it.
	TLS bool `yaml:"tls"`
}

// RedisKV implements KV on top of a Redis client.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV creates the Redis-backed KV from config.
func NewRedisKV(cfg RedisConfig) *RedisKV {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &RedisKV{client: redis.NewClient(opts)}
}

// Ping checks connectivity. Callers treat failure as non-fatal: the store
// degrades to empty history while Redis is unreachable.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (r *RedisKV) Close() error {
	return r.client.Close()
}

// Get returns the value at key, or ErrNotFound.
func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value at key with the given TTL (SET key value EX seconds).
func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Del removes the given keys.
func (r *RedisKV) Del(ctx context.Context, keys ...string) error {
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ KV = (*RedisKV)(nil)
