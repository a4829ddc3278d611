// ABOUTME: Tests for the in-process KV backend and the fallback wrapper
// ABOUTME: Covers TTL expiry, atomic consume under concurrency, and degradation

package kv

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestMemory_GetMissing(t *testing.T) {
	m := NewMemory()
	defer m.Close()

	_, ok, err := m.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired key should read as absent")
}

func TestMemory_ZeroTTLNeverExpires(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ConsumeIfPresent(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := m.ConsumeIfPresent(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, ok, err = m.ConsumeIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "second consume must miss")
}

func TestMemory_ConsumeConcurrent(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "token", []byte("x"), time.Minute))

	const workers = 10
	var wg sync.WaitGroup
	wins := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.ConsumeIfPresent(ctx, "token")
			assert.NoError(t, err)
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	assert.Equal(t, 1, won, "exactly one consumer must win")
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"), "deleting an absent key is not an error")

	_, ok, _ := m.Get(ctx, "k")
	assert.False(t, ok)
}

// brokenStore always reports ErrTransient, standing in for an unreachable
// network backend.
type brokenStore struct{}

func (brokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return fmt.Errorf("%w: down", ErrTransient)
}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: down", ErrTransient)
}

func (brokenStore) ConsumeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, fmt.Errorf("%w: down", ErrTransient)
}

func (brokenStore) Delete(ctx context.Context, key string) error {
	return fmt.Errorf("%w: down", ErrTransient)
}

func (brokenStore) Close() error { return nil }

func TestFallback_DegradesOnTransient(t *testing.T) {
	f := NewFallback(brokenStore{}, nil)
	defer f.Close()
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", []byte("v"), time.Minute))

	value, ok, err := f.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	_, ok, err = f.ConsumeIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, err = f.ConsumeIfPresent(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFallback_HealthyPrimaryWins(t *testing.T) {
	primary := NewMemory()
	f := NewFallback(primary, nil)
	defer f.Close()
	ctx := context.Background()

	require.NoError(t, f.Set(ctx, "k", []byte("primary"), time.Minute))

	value, ok, err := primary.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("primary"), value)
}
