// ABOUTME: Pending-action manager issuing one-shot confirmation tokens with TTL
// ABOUTME: Consume is atomic on the KV layer so exactly one confirmer wins

package pending

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/visor-gateway/internal/kv"
)

// DefaultTTL is how long a proposed action waits for confirmation.
const DefaultTTL = 60 * time.Second

// expiryGrace keeps consumed-too-late tokens around in the KV long enough
// to distinguish ErrExpired from ErrNotFound.
const expiryGrace = 5 * time.Minute

var (
	// ErrNotFound is returned for unknown or already-consumed tokens.
	ErrNotFound = errors.New("pending action not found")

	// ErrExpired is returned when the action's TTL elapsed before consume.
	ErrExpired = errors.New("pending action expired")
)

// Action is a deferred side effect awaiting user confirmation.
type Action struct {
	Token      string         `json:"token"`
	IntentName string         `json:"intent_name"`
	Entities   map[string]any `json:"entities"`
	Summary    string         `json:"summary"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Manager issues and consumes pending-action tokens over the KV store.
type Manager struct {
	kv  kv.Store
	ttl time.Duration
}

// NewManager creates a manager with the given default TTL (DefaultTTL if
// zero).
func NewManager(backend kv.Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{kv: backend, ttl: ttl}
}

func tokenKey(token string) string {
	return "pending:" + token
}

func sessionKey(userID, sessionID string) string {
	return "pending_session:" + userID + ":" + sessionID
}

// newToken returns a 128-bit cryptographically random hex token.
func newToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}

// Create stores a new pending action and returns it with its token. The
// session index is overwritten so a later proposal supersedes an earlier
// one for confirm-by-voice.
func (m *Manager) Create(ctx context.Context, intentName string, entities map[string]any, summary, userID, sessionID string, ttl time.Duration) (*Action, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	action := &Action{
		Token:      token,
		IntentName: intentName,
		Entities:   entities,
		Summary:    summary,
		UserID:     userID,
		SessionID:  sessionID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	data, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("encoding pending action: %w", err)
	}

	// The KV entry outlives the logical TTL by a grace period so Consume
	// can report ErrExpired instead of ErrNotFound.
	if err := m.kv.Set(ctx, tokenKey(token), data, ttl+expiryGrace); err != nil {
		return nil, fmt.Errorf("storing pending action: %w", err)
	}
	if err := m.kv.Set(ctx, sessionKey(userID, sessionID), []byte(token), ttl+expiryGrace); err != nil {
		return nil, fmt.Errorf("indexing pending action: %w", err)
	}
	return action, nil
}

// Peek returns the action without consuming it.
func (m *Manager) Peek(ctx context.Context, token string) (*Action, error) {
	data, ok, err := m.kv.Get(ctx, tokenKey(token))
	if err != nil {
		return nil, fmt.Errorf("reading pending action: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// Consume atomically removes and returns the action. Exactly one of N
// concurrent consumers succeeds; the rest observe ErrNotFound. Consuming
// after the TTL returns ErrExpired.
func (m *Manager) Consume(ctx context.Context, token string) (*Action, error) {
	data, ok, err := m.kv.ConsumeIfPresent(ctx, tokenKey(token))
	if err != nil {
		return nil, fmt.Errorf("consuming pending action: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

// ConsumeLatest consumes the session's most recent outstanding action, for
// the spoken "confirm" path.
func (m *Manager) ConsumeLatest(ctx context.Context, userID, sessionID string) (*Action, error) {
	tokenBytes, ok, err := m.kv.ConsumeIfPresent(ctx, sessionKey(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("reading pending index: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return m.Consume(ctx, string(tokenBytes))
}

// Discard drops the session's outstanding action, for the spoken "cancel"
// path. A missing or expired action returns ErrNotFound.
func (m *Manager) Discard(ctx context.Context, userID, sessionID string) (*Action, error) {
	action, err := m.ConsumeLatest(ctx, userID, sessionID)
	if errors.Is(err, ErrExpired) {
		return nil, ErrNotFound
	}
	return action, err
}

func decode(data []byte) (*Action, error) {
	var action Action
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("decoding pending action: %w", err)
	}
	if time.Now().After(action.ExpiresAt) {
		return nil, ErrExpired
	}
	return &action, nil
}
