// ABOUTME: Network KV backend on Redis with native TTL and atomic GETDEL
// ABOUTME: Backend failures are wrapped as ErrTransient so callers can degrade

package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a network Store backed by a Redis server. TTL and atomic consume
// are native (SET with an expiry, and GETDEL).
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given address and verifies the connection with a
// short ping.
func NewRedis(ctx context.Context, addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: connect to redis: %v", ErrTransient, err)
	}

	return &Redis{client: client}, nil
}

// Set writes value under key with the given ttl.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: set %s: %v", ErrTransient, key, err)
	}
	return nil
}

// Get returns the value for key; a redis.Nil reply reads as absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrTransient, key, err)
	}
	return value, true, nil
}

// ConsumeIfPresent uses GETDEL so only one concurrent consumer observes the
// value.
func (r *Redis) ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := r.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: getdel %s: %v", ErrTransient, key, err)
	}
	return value, true, nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %v", ErrTransient, key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
