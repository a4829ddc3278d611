// ABOUTME: End-to-end tests for the command router and handlers
// ABOUTME: Exercises inbox, confirm-and-merge, repeat, policy gate, and idempotency

package command

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/visor-gateway/internal/agenttask"
	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/kv"
	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/pending"
	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/session"
	"github.com/2389/visor-gateway/internal/speech"
	"github.com/2389/visor-gateway/internal/store"
)

type routerFixture struct {
	router *Router
	host   *codehost.Fixture
	store  *store.MockStore
	kv     *kv.Memory
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	backend := kv.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })

	st := store.NewMockStore()
	sessions := session.NewStore(backend, time.Hour)
	pendings := pending.NewManager(backend, time.Minute)
	profiles := profile.NewUserStore(backend)
	host := codehost.NewSeededFixture()

	notifier := notify.NewService(st, nil, time.Minute, nil)
	tasks := agenttask.NewService(st, notifier, profiles, "org/agents", nil)
	tasks.RegisterProvider(agenttask.MockProvider{})
	tasks.RegisterProvider(agenttask.MockRunningProvider{})

	router := NewRouter(sessions, pendings, profiles, speech.NewStub(), backend, 0, nil)
	router.Register(NewInboxHandler(host, sessions))
	router.Register(NewSummarizeHandler(host, sessions))
	router.Register(NewRequestReviewHandler(host, st))
	router.Register(NewMergeHandler(host, st))
	router.Register(NewChecksHandler(host))
	router.Register(NewDelegateHandler(tasks, "mock"))
	router.Register(NewProgressHandler(tasks))
	router.Register(NewSetProfileHandler(profiles))
	router.Register(NewNextHandler(sessions))

	return &routerFixture{router: router, host: host, store: st, kv: backend}
}

func textCommand(text string) HandleRequest {
	return HandleRequest{
		UserID:    "u1",
		SessionID: "sess-1",
		Input:     Input{Type: "text", Text: text},
		Profile:   "default",
	}
}

func TestRouter_InboxScenario(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), textCommand("inbox"))

	assert.Equal(t, "text", resp.Response.Type)
	assert.True(t, len(resp.Response.Text) > 0)
	assert.Contains(t, resp.Response.Text, "You have 3 items")
	require.Len(t, resp.Cards, 3)
	assert.Equal(t, "PR #101", resp.Cards[0].Title, "urgent PR sorts first")
	assert.False(t, resp.NeedsConfirmation)
	assert.Equal(t, "inbox.list", resp.Intent.Name)
}

func TestRouter_ConfirmAndMerge(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	// All checks pass on #101 in the seeded fixture.
	resp := f.router.Handle(ctx, textCommand("summarize pr 101"))
	require.Equal(t, "text", resp.Response.Type)

	resp = f.router.Handle(ctx, textCommand("merge pr 101"))
	require.True(t, resp.NeedsConfirmation)
	require.NotNil(t, resp.PendingAction)
	assert.Contains(t, resp.Response.Text, "Ready to merge PR 101")
	token := resp.PendingAction.Token

	confirmed := f.router.Confirm(ctx, "u1", token, "")
	assert.False(t, confirmed.NeedsConfirmation)
	assert.Contains(t, confirmed.Response.Text, "Merged")
	assert.Equal(t, []string{"org/x#101"}, f.host.MergedPRs())

	// A second confirm of the same token is gone.
	second := f.router.Confirm(ctx, "u1", token, "")
	assert.Equal(t, "error", second.Response.Type)
	assert.Equal(t, string(KindNotFound), second.Response.ErrorKind)
}

func TestRouter_SpokenConfirm(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, textCommand("summarize pr 101"))
	resp := f.router.Handle(ctx, textCommand("merge pr 101"))
	require.True(t, resp.NeedsConfirmation)

	confirmed := f.router.Handle(ctx, textCommand("confirm"))
	assert.Contains(t, confirmed.Response.Text, "Merged")

	// Nothing left to confirm.
	again := f.router.Handle(ctx, textCommand("confirm"))
	assert.Equal(t, "error", again.Response.Type)
	assert.Equal(t, string(KindNotFound), again.Response.ErrorKind)
}

func TestRouter_Cancel(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, textCommand("summarize pr 101"))
	resp := f.router.Handle(ctx, textCommand("merge pr 101"))
	require.True(t, resp.NeedsConfirmation)

	cancelled := f.router.Handle(ctx, textCommand("cancel"))
	assert.Equal(t, "Cancelled.", cancelled.Response.Text)

	// The staged merge is gone.
	confirmed := f.router.Handle(ctx, textCommand("confirm"))
	assert.Equal(t, "error", confirmed.Response.Type)
	assert.Empty(t, f.host.MergedPRs())
}

func TestRouter_MergeBlockedByFailingChecks(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	f.host.SetChecks("org/x", 102,
		codehost.Check{Name: "lint", Status: "completed", Conclusion: "failure"},
	)

	f.router.Handle(ctx, textCommand("summarize pr 102"))
	resp := f.router.Handle(ctx, textCommand("merge pr 102"))
	require.True(t, resp.NeedsConfirmation)

	confirmed := f.router.Handle(ctx, textCommand("confirm"))
	assert.Equal(t, "error", confirmed.Response.Type)
	assert.Equal(t, string(KindConflict), confirmed.Response.ErrorKind)
	assert.Empty(t, f.host.MergedPRs())
}

func TestRouter_PolicyGateBlocksBeforeProposal(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveRepoPolicy(ctx, &store.RepoPolicy{
		UserID: "u1", RepoFullName: "org/x", AllowWrite: false,
	}))

	f.router.Handle(ctx, textCommand("summarize pr 101"))
	resp := f.router.Handle(ctx, textCommand("merge pr 101"))

	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, string(KindForbidden), resp.Response.ErrorKind)
	assert.Nil(t, resp.PendingAction, "no pending action is issued for a denied write")
	assert.False(t, resp.NeedsConfirmation)
}

func TestRouter_Repeat(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	first := f.router.Handle(ctx, textCommand("inbox"))
	repeated := f.router.Handle(ctx, textCommand("repeat"))

	assert.Equal(t, first.Response.Text, repeated.Response.Text, "repeat returns the prior text verbatim")
	assert.Equal(t, len(first.Cards), len(repeated.Cards))
	assert.Equal(t, "system.repeat", repeated.Intent.Name)
}

func TestRouter_RepeatWithNoHistory(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), textCommand("repeat"))
	assert.Contains(t, resp.Response.Text, "haven't said anything")
}

func TestRouter_UnknownIntent(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), textCommand("order me a pizza"))
	assert.Equal(t, "unknown", resp.Intent.Name)
	assert.Contains(t, resp.Response.Text, "I didn't catch that")
}

func TestRouter_IdempotencyKeyReplays(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	req := textCommand("inbox")
	req.IdempotencyKey = "idem-1"

	first := f.router.Handle(ctx, req)
	second := f.router.Handle(ctx, req)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(firstJSON), string(secondJSON), "replay is byte-identical")
}

func TestRouter_IdempotencyScopedPerUser(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	req := textCommand("inbox")
	req.IdempotencyKey = "idem-1"
	first := f.router.Handle(ctx, req)

	other := req
	other.UserID = "u2"
	other.Input = Input{Type: "text", Text: "set profile to workout"}
	otherResp := f.router.Handle(ctx, other)

	// Both users share the fixture host, so an inbox reply cannot tell a
	// replay apart; u2 sends a different command under the same key, and
	// the intent echo shows it ran instead of replaying u1's response.
	assert.Equal(t, "inbox.list", first.Intent.Name)
	assert.Equal(t, "system.set_profile", otherResp.Intent.Name)
}

func TestRouter_AudioInputThroughStubSTT(t *testing.T) {
	f := newRouterFixture(t)

	uri := writeTempAudio(t, "inbox")
	resp := f.router.Handle(context.Background(), HandleRequest{
		UserID:    "u1",
		SessionID: "sess-1",
		Input:     Input{Type: "audio", URI: uri, Format: "wav"},
		Profile:   "default",
	})

	assert.Equal(t, "inbox.list", resp.Intent.Name)
	assert.Contains(t, resp.Response.Text, "You have 3 items")
}

func TestRouter_AudioInputBadURI(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), HandleRequest{
		UserID:    "u1",
		SessionID: "sess-1",
		Input:     Input{Type: "audio", URI: "file:///nonexistent/audio.wav"},
		Profile:   "default",
	})
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, string(KindValidation), resp.Response.ErrorKind)
}

func TestRouter_WorkoutProfileShapesResponse(t *testing.T) {
	f := newRouterFixture(t)

	req := textCommand("summarize pr 101")
	req.Profile = "workout"
	resp := f.router.Handle(context.Background(), req)

	require.Equal(t, "text", resp.Response.Type)
	assert.LessOrEqual(t, len(strings.Fields(resp.Response.Text)), 15, "workout caps spoken words at 15")
	assert.Equal(t, 1.15, resp.SpeechRate)
}

func TestRouter_SetProfile(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, textCommand("set profile to workout"))
	assert.Contains(t, resp.Response.Text, "Profile set to workout")

	resp = f.router.Handle(ctx, textCommand("set profile to spelunking"))
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, string(KindValidation), resp.Response.ErrorKind)
}

func TestRouter_NavigationNext(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, textCommand("inbox"))

	resp := f.router.Handle(ctx, textCommand("next"))
	assert.Contains(t, resp.Response.Text, "Next: PR")

	// Walk past the end of the three-item list.
	f.router.Handle(ctx, textCommand("next"))
	last := f.router.Handle(ctx, textCommand("next"))
	assert.Contains(t, last.Response.Text, "That's everything")
}

func TestRouter_NextWithoutList(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), textCommand("next"))
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, string(KindValidation), resp.Response.ErrorKind)
}

func TestRouter_MergeFallsBackToFocus(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	// Focus on PR 101, then merge with no number: "merge it".
	f.router.Handle(ctx, textCommand("summarize pr 101"))
	resp := f.router.Handle(ctx, textCommand("merge it"))

	require.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "merge PR 101")
}

func TestRouter_MissingPRNumberAsksWhich(t *testing.T) {
	f := newRouterFixture(t)

	resp := f.router.Handle(context.Background(), textCommand("merge it"))
	assert.Equal(t, "error", resp.Response.Type)
	assert.Equal(t, string(KindValidation), resp.Response.ErrorKind)
	assert.Contains(t, resp.Response.Text, "Which PR?")
}

func TestRouter_DelegateFlow(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	resp := f.router.Handle(ctx, textCommand("have an agent update the changelog"))
	require.True(t, resp.NeedsConfirmation)
	assert.Contains(t, resp.Response.Text, "delegate to agent")

	confirmed := f.router.Handle(ctx, textCommand("confirm"))
	assert.Contains(t, confirmed.Response.Text, "Delegated")

	progress := f.router.Handle(ctx, textCommand("how's the agent doing"))
	assert.Contains(t, progress.Response.Text, "finished")
}

// writeTempAudio stores text as a fake audio payload and returns its
// file:// URI; the stub transcriber echoes it back.
func writeTempAudio(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte(text), 0600))
	return "file://" + path
}

func TestRouter_ConfirmTokenWrongUser(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	f.router.Handle(ctx, textCommand("summarize pr 101"))
	resp := f.router.Handle(ctx, textCommand("merge pr 101"))
	require.NotNil(t, resp.PendingAction)

	stolen := f.router.Confirm(ctx, "u2", resp.PendingAction.Token, "")
	assert.Equal(t, "error", stolen.Response.Type)
	assert.Equal(t, string(KindNotFound), stolen.Response.ErrorKind)
	assert.Empty(t, f.host.MergedPRs())
}

