// ABOUTME: Handler contract and result types for intent implementations
// ABOUTME: Results are final, propose, executed, or error; the router weaves them

package command

import (
	"context"
	"fmt"

	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/session"
)

// resultKind discriminates handler results.
type resultKind int

const (
	resultFinal resultKind = iota
	resultPropose
	resultExecuted
	resultError
)

// Result is what a handler returns to the router.
type Result struct {
	kind     resultKind
	Spoken   string
	Cards    []Card
	Summary  string         // propose only
	Entities map[string]any // propose only: entities to replay on confirm
	ErrKind  ErrorKind      // error only
}

// Final is a read result with no side effect.
func Final(spoken string, cards ...Card) Result {
	return Result{kind: resultFinal, Spoken: spoken, Cards: cards}
}

// Propose defers a side effect behind a confirmation. entities are stored
// on the pending action and replayed into Execute on confirm.
func Propose(summary string, entities map[string]any) Result {
	return Result{kind: resultPropose, Summary: summary, Entities: entities}
}

// Executed reports a side effect already performed.
func Executed(spoken string, cards ...Card) Result {
	return Result{kind: resultExecuted, Spoken: spoken, Cards: cards}
}

// Errorf is a typed error result with a user-facing message.
func Errorf(kind ErrorKind, format string, args ...any) Result {
	return Result{kind: resultError, ErrKind: kind, Spoken: fmt.Sprintf(format, args...)}
}

// Request carries everything a handler needs for one invocation.
type Request struct {
	UserID    string
	SessionID string
	Entities  map[string]any
	// Session is the caller's session context, nil when none exists yet.
	Session *session.Context
	Profile profile.Settings
}

// Handler implements one intent.
type Handler interface {
	Name() string
	// SideEffect reports whether Execute performs a write. Side-effect
	// handlers go through the pending-action protocol unless the profile
	// policy is never.
	SideEffect() bool
	// Handle runs the read path, or proposes a side effect.
	Handle(ctx context.Context, req *Request) Result
	// Execute performs the side effect; for read handlers it mirrors
	// Handle.
	Execute(ctx context.Context, req *Request) Result
}

// readHandler adapts a function into a side-effect-free Handler.
type readHandler struct {
	name string
	fn   func(ctx context.Context, req *Request) Result
}

func (h *readHandler) Name() string     { return h.name }
func (h *readHandler) SideEffect() bool { return false }

func (h *readHandler) Handle(ctx context.Context, req *Request) Result {
	return h.fn(ctx, req)
}

func (h *readHandler) Execute(ctx context.Context, req *Request) Result {
	return h.fn(ctx, req)
}
