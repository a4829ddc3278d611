// ABOUTME: Tests for the pending-action manager
// ABOUTME: Covers exactly-once consume under concurrency, TTL expiry, and session lookup

package pending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/visor-gateway/internal/kv"
)

func newTestManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()
	backend := kv.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })
	return NewManager(backend, ttl)
}

func TestManager_CreateAndPeek(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	action, err := m.Create(ctx, "pr.merge", map[string]any{"pr_number": 412}, "merge PR 412", "u1", "sess-1", 0)
	require.NoError(t, err)
	assert.Len(t, action.Token, 32, "128-bit hex token")
	assert.Equal(t, "pr.merge", action.IntentName)

	peeked, err := m.Peek(ctx, action.Token)
	require.NoError(t, err)
	assert.Equal(t, "merge PR 412", peeked.Summary)

	// Peek does not consume.
	peeked, err = m.Peek(ctx, action.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", peeked.UserID)
}

func TestManager_ConsumeOnce(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	action, err := m.Create(ctx, "pr.merge", nil, "merge PR 1", "u1", "sess-1", 0)
	require.NoError(t, err)

	consumed, err := m.Consume(ctx, action.Token)
	require.NoError(t, err)
	assert.Equal(t, action.Token, consumed.Token)

	_, err = m.Consume(ctx, action.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ConsumeConcurrent(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	action, err := m.Create(ctx, "pr.merge", nil, "merge PR 1", "u1", "sess-1", 60*time.Second)
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Consume(ctx, action.Token)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, notFound := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case assert.ErrorIs(t, err, ErrNotFound):
			notFound++
		}
	}
	assert.Equal(t, 1, succeeded, "exactly one consumer wins")
	assert.Equal(t, workers-1, notFound)
}

func TestManager_ConsumeExpired(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	action, err := m.Create(ctx, "pr.merge", nil, "merge PR 1", "u1", "sess-1", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	_, err = m.Peek(ctx, action.Token)
	assert.ErrorIs(t, err, ErrExpired)

	_, err = m.Consume(ctx, action.Token)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestManager_ConsumeUnknown(t *testing.T) {
	m := newTestManager(t, time.Minute)

	_, err := m.Consume(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ConsumeLatest(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	_, err := m.Create(ctx, "pr.merge", nil, "merge PR 1", "u1", "sess-1", 0)
	require.NoError(t, err)
	second, err := m.Create(ctx, "pr.request_review", nil, "request review", "u1", "sess-1", 0)
	require.NoError(t, err)

	// A later proposal supersedes the earlier one for voice confirm.
	action, err := m.ConsumeLatest(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, second.Token, action.Token)

	_, err = m.ConsumeLatest(ctx, "u1", "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Discard(t *testing.T) {
	m := newTestManager(t, time.Minute)
	ctx := context.Background()

	created, err := m.Create(ctx, "pr.merge", nil, "merge PR 1", "u1", "sess-1", 0)
	require.NoError(t, err)

	discarded, err := m.Discard(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, created.Token, discarded.Token)

	// The token is gone after discard.
	_, err = m.Consume(ctx, created.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}
