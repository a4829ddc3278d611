// ABOUTME: Per-user active profile store over the KV layer
// ABOUTME: Webhook routing reads this to throttle notifications by profile

package profile

import (
	"context"
	"time"

	"github.com/2389/visor-gateway/internal/kv"
)

// profileTTL bounds how long a set profile outlives activity. Losing it
// degrades to the default profile, never to an error.
const profileTTL = 24 * time.Hour

// UserStore tracks each user's active profile.
type UserStore struct {
	kv kv.Store
}

// NewUserStore creates a profile store over the KV backend.
func NewUserStore(backend kv.Store) *UserStore {
	return &UserStore{kv: backend}
}

// Get returns the user's active profile, or the default when unset.
func (s *UserStore) Get(ctx context.Context, userID string) string {
	data, ok, err := s.kv.Get(ctx, "profile:"+userID)
	if err != nil || !ok {
		return Default
	}
	name := string(data)
	if !Known(name) {
		return Default
	}
	return name
}

// Set records the user's active profile.
func (s *UserStore) Set(ctx context.Context, userID, name string) error {
	return s.kv.Set(ctx, "profile:"+userID, []byte(Lookup(name).Name), profileTTL)
}
