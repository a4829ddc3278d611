// Package command implements the command plane: the intent router with its
// repeat/confirm/cancel short-circuits, the pending-action confirmation
// weave, profile-shaped responses, per-session serialization, idempotency
// replay, and the intent handlers themselves.
package command
