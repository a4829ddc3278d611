// ABOUTME: Tests for the session context store
// ABOUTME: Covers nil-on-missing reads, focus updates, cursor, and clearing

package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/visor-gateway/internal/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	backend := kv.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })
	return NewStore(backend, time.Minute)
}

func TestStore_GetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	sc, err := s.Get(context.Background(), "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sc, "no session yet reads as nil")
}

func TestStore_SetRepoPRAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRepoPR(ctx, "u1", "sess-1", "org/x", 412))

	sc, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "org/x", sc.FocusRepo)
	assert.Equal(t, 412, sc.FocusPR)
}

func TestStore_LastResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cards := json.RawMessage(`[{"type":"pr","title":"PR #1"}]`)
	require.NoError(t, s.SetLastResponse(ctx, "u1", "sess-1", "You have 1 item.", cards))

	sc, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "You have 1 item.", sc.LastSpoken)
	assert.JSONEq(t, string(cards), string(sc.LastCards))
}

func TestStore_ListCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := json.RawMessage(`[{"number":101},{"number":102}]`)
	require.NoError(t, s.SetList(ctx, "u1", "sess-1", items, 0))
	require.NoError(t, s.SetListCursor(ctx, "u1", "sess-1", 1))

	sc, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, 1, sc.ListCursor)
	assert.JSONEq(t, string(items), string(sc.ListItems))
}

func TestStore_UserScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRepoPR(ctx, "u1", "sess-1", "org/x", 1))

	sc, err := s.Get(ctx, "u2", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sc, "same session id under another user is a distinct session")
}

func TestStore_Clear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRepoPR(ctx, "u1", "sess-1", "org/x", 1))
	require.NoError(t, s.Clear(ctx, "u1", "sess-1"))

	sc, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestStore_TTLExpiry(t *testing.T) {
	backend := kv.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })
	s := NewStore(backend, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, s.SetRepoPR(ctx, "u1", "sess-1", "org/x", 1))
	time.Sleep(50 * time.Millisecond)

	sc, err := s.Get(ctx, "u1", "sess-1")
	require.NoError(t, err)
	assert.Nil(t, sc, "session expires after TTL")
}
