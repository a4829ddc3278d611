// ABOUTME: Fallback wrapper that degrades to the in-process KV on transient errors
// ABOUTME: Keeps pending actions and sessions usable while the network backend is down

package kv

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Fallback wraps a primary Store and degrades to an in-process Memory store
// whenever the primary reports ErrTransient. Keys written during an outage
// live only in the local store; that is acceptable for TTL-bounded state
// that clients can re-issue.
type Fallback struct {
	primary Store
	local   *Memory
	logger  *slog.Logger
}

// NewFallback wraps primary with an in-process fallback.
func NewFallback(primary Store, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{
		primary: primary,
		local:   NewMemory(),
		logger:  logger.With("component", "kv"),
	}
}

// Set writes to the primary, falling back to the local store on transient
// failure.
func (f *Fallback) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if errors.Is(err, ErrTransient) {
		f.logger.Warn("kv degraded to local store", "op", "set", "error", err)
		return f.local.Set(ctx, key, value, ttl)
	}
	return err
}

// Get reads from the primary, consulting the local store on transient
// failure or a primary miss (the key may have been written during an outage).
func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := f.primary.Get(ctx, key)
	if errors.Is(err, ErrTransient) {
		f.logger.Warn("kv degraded to local store", "op", "get", "error", err)
		return f.local.Get(ctx, key)
	}
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return f.local.Get(ctx, key)
	}
	return value, true, nil
}

// ConsumeIfPresent consumes from the primary first; on a miss it consumes
// from the local store so outage-written keys still honor exactly-once.
func (f *Fallback) ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := f.primary.ConsumeIfPresent(ctx, key)
	if errors.Is(err, ErrTransient) {
		f.logger.Warn("kv degraded to local store", "op", "consume", "error", err)
		return f.local.ConsumeIfPresent(ctx, key)
	}
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return f.local.ConsumeIfPresent(ctx, key)
	}
	return value, true, nil
}

// Delete removes key from both stores.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	_ = f.local.Delete(ctx, key)
	err := f.primary.Delete(ctx, key)
	if errors.Is(err, ErrTransient) {
		f.logger.Warn("kv degraded to local store", "op", "delete", "error", err)
		return nil
	}
	return err
}

// Close closes both stores.
func (f *Fallback) Close() error {
	_ = f.local.Close()
	return f.primary.Close()
}
