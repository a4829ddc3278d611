// ABOUTME: Short-lived per-session context over the KV store
// ABOUTME: Tracks last response, repo/PR focus, and the last list with its cursor

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/visor-gateway/internal/kv"
)

// DefaultTTL bounds a session's lifetime; every read and write extends it.
const DefaultTTL = time.Hour

// Context is the transient state of one client session. A nil *Context
// means no session exists yet; handlers interpret that as no prior context.
type Context struct {
	LastSpoken   string          `json:"last_spoken,omitempty"`
	LastCards    json.RawMessage `json:"last_cards,omitempty"`
	FocusRepo    string          `json:"focus_repo,omitempty"`
	FocusPR      int             `json:"focus_pr,omitempty"`
	ListItems    json.RawMessage `json:"list_items,omitempty"`
	ListCursor   int             `json:"list_cursor"`
	ProfileName  string          `json:"profile_name,omitempty"`
	LastActivity time.Time       `json:"last_activity"`
}

// Store persists session contexts in the KV store, scoped per user so one
// user's session ids can never read another's state.
type Store struct {
	kv  kv.Store
	ttl time.Duration
}

// NewStore creates a session store with the given TTL (DefaultTTL if zero).
func NewStore(backend kv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: backend, ttl: ttl}
}

func (s *Store) key(userID, sessionID string) string {
	return "session:" + userID + ":" + sessionID
}

// Get returns the session context, or nil if none exists. Reading refreshes
// the TTL.
func (s *Store) Get(ctx context.Context, userID, sessionID string) (*Context, error) {
	data, ok, err := s.kv.Get(ctx, s.key(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var sc Context
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}

	// Refresh TTL on read.
	_ = s.kv.Set(ctx, s.key(userID, sessionID), data, s.ttl)
	return &sc, nil
}

// Save writes the session context and refreshes the TTL.
func (s *Store) Save(ctx context.Context, userID, sessionID string, sc *Context) error {
	sc.LastActivity = time.Now().UTC()
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(userID, sessionID), data, s.ttl); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return nil
}

// mutate loads (or creates) the context, applies fn, and saves.
func (s *Store) mutate(ctx context.Context, userID, sessionID string, fn func(*Context)) error {
	sc, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if sc == nil {
		sc = &Context{}
	}
	fn(sc)
	return s.Save(ctx, userID, sessionID, sc)
}

// SetRepoPR records the repo/PR focus for follow-up commands.
func (s *Store) SetRepoPR(ctx context.Context, userID, sessionID, repo string, pr int) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.FocusRepo = repo
		sc.FocusPR = pr
	})
}

// SetLastResponse records the spoken text and cards of the last response,
// for the repeat intent.
func (s *Store) SetLastResponse(ctx context.Context, userID, sessionID, spoken string, cards json.RawMessage) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.LastSpoken = spoken
		sc.LastCards = cards
	})
}

// SetList records a list result and sets its cursor.
func (s *Store) SetList(ctx context.Context, userID, sessionID string, items json.RawMessage, cursor int) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.ListItems = items
		sc.ListCursor = cursor
	})
}

// SetListCursor advances or rewinds the list cursor.
func (s *Store) SetListCursor(ctx context.Context, userID, sessionID string, cursor int) error {
	return s.mutate(ctx, userID, sessionID, func(sc *Context) {
		sc.ListCursor = cursor
	})
}

// Clear destroys the session.
func (s *Store) Clear(ctx context.Context, userID, sessionID string) error {
	return s.kv.Delete(ctx, s.key(userID, sessionID))
}
