// ABOUTME: Identity type and request-context plumbing for authenticated callers
// ABOUTME: Handlers read the resolved user id via FromContext

package auth

import (
	"context"
)

// Identity is the resolved caller. The core never authenticates; it
// consumes a user id resolved by the configured mode.
type Identity struct {
	UserID string
}

type contextKey struct{}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity, or nil when the request is
// unauthenticated.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKey{}).(*Identity)
	return id
}
