// ABOUTME: Command router: input resolution, short-circuits, dispatch, pending weave
// ABOUTME: Serializes per session, shapes responses per profile, and handles idempotency

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/2389/visor-gateway/internal/intent"
	"github.com/2389/visor-gateway/internal/kv"
	"github.com/2389/visor-gateway/internal/pending"
	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/session"
	"github.com/2389/visor-gateway/internal/speech"
)

const (
	sttTimeout = 5 * time.Second

	// DefaultIdempotencyWindow is how long identical (user, key) pairs
	// replay the stored response.
	DefaultIdempotencyWindow = 10 * time.Minute
)

// sttFallback is spoken when transcription fails.
const sttFallback = "I'm having trouble hearing you."

// Input is the client-submitted command input.
type Input struct {
	Type   string `json:"type"` // text or audio
	Text   string `json:"text,omitempty"`
	URI    string `json:"uri,omitempty"`
	Format string `json:"format,omitempty"`
}

// HandleRequest is one command invocation.
type HandleRequest struct {
	UserID         string
	SessionID      string
	Input          Input
	Profile        string
	IdempotencyKey string
	Debug          bool
}

// Router orchestrates the command pipeline.
type Router struct {
	sessions   *session.Store
	pendings   *pending.Manager
	parser     *intent.Parser
	profiles   *profile.UserStore
	stt        speech.Transcriber
	kv         kv.Store
	handlers   map[string]Handler
	locks      *keyedMutex
	idemWindow time.Duration
	logger     *slog.Logger
}

// NewRouter creates a router; handlers are registered separately.
func NewRouter(sessions *session.Store, pendings *pending.Manager, profiles *profile.UserStore, stt speech.Transcriber, kvStore kv.Store, idemWindow time.Duration, logger *slog.Logger) *Router {
	if idemWindow <= 0 {
		idemWindow = DefaultIdempotencyWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		sessions:   sessions,
		pendings:   pendings,
		parser:     intent.NewParser(),
		profiles:   profiles,
		stt:        stt,
		kv:         kvStore,
		handlers:   make(map[string]Handler),
		locks:      newKeyedMutex(),
		idemWindow: idemWindow,
		logger:     logger.With("component", "command"),
	}
}

// Register binds a handler to its intent name.
func (r *Router) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Handle runs one command end to end. Errors are encoded in the response;
// the returned value is never nil.
func (r *Router) Handle(ctx context.Context, req HandleRequest) *CommandResponse {
	unlock := r.locks.Lock(req.UserID + ":" + req.SessionID)
	defer unlock()

	if resp, ok := r.idempotentReplay(ctx, req.UserID, req.IdempotencyKey); ok {
		return resp
	}

	resp := r.handleLocked(ctx, req)
	r.idempotentStore(ctx, req.UserID, req.IdempotencyKey, resp)
	return resp
}

func (r *Router) handleLocked(ctx context.Context, req HandleRequest) *CommandResponse {
	profileName := req.Profile
	if profileName == "" {
		profileName = r.profiles.Get(ctx, req.UserID)
	}
	settings := profile.Lookup(profileName)

	transcript, errResp := r.resolveInput(ctx, req.Input, settings)
	if errResp != nil {
		return errResp
	}

	parsed := r.parser.Parse(transcript)
	r.logger.Debug("command parsed",
		"user_id", req.UserID, "session_id", req.SessionID,
		"intent", parsed.Name, "transcript", transcript)

	var resp *CommandResponse
	switch parsed.Name {
	case "system.repeat":
		resp = r.repeat(ctx, req, parsed)
	case "system.confirm":
		resp = r.confirmSpoken(ctx, req, parsed, settings)
	case "system.cancel":
		resp = r.cancel(ctx, req, parsed, settings)
	case intent.Unknown:
		resp = &CommandResponse{
			Response: ResponseBody{
				Type: "text",
				Text: "I didn't catch that. Try saying 'inbox' or 'summarize PR 123'.",
			},
			Intent: IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence},
		}
		r.finish(ctx, req.UserID, req.SessionID, settings, resp)
	default:
		resp = r.dispatch(ctx, req, parsed, settings)
	}

	if req.Debug {
		resp.Debug = map[string]any{
			"transcript": transcript,
			"profile":    settings.Name,
		}
	}
	return resp
}

// resolveInput yields the transcript, running STT for audio input.
func (r *Router) resolveInput(ctx context.Context, in Input, settings profile.Settings) (string, *CommandResponse) {
	switch in.Type {
	case "text", "":
		if strings.TrimSpace(in.Text) == "" {
			return "", errorResponse(KindValidation, "Say or type a command.", settings)
		}
		return in.Text, nil
	case "audio":
		if r.stt == nil {
			return "", errorResponse(KindValidation, "Audio input is not enabled.", settings)
		}
		data, err := readAudioURI(in.URI)
		if err != nil {
			return "", errorResponse(KindValidation, "I couldn't read that audio.", settings)
		}

		sttCtx, cancel := context.WithTimeout(ctx, sttTimeout)
		defer cancel()
		transcript, err := r.stt.Transcribe(sttCtx, data, in.Format)
		if err != nil {
			kind := KindUpstream
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(sttCtx.Err(), context.DeadlineExceeded) {
				kind = KindTimeout
			}
			r.logger.Warn("transcription failed", "error", err)
			return "", errorResponse(kind, sttFallback, settings)
		}
		return transcript, nil
	default:
		return "", errorResponse(KindValidation, "Unknown input type.", settings)
	}
}

// readAudioURI loads audio bytes from a file:// URI.
func readAudioURI(uri string) ([]byte, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing audio uri: %w", err)
	}
	if parsed.Scheme != "file" {
		return nil, fmt.Errorf("unsupported audio uri scheme %q", parsed.Scheme)
	}
	return os.ReadFile(parsed.Path)
}

// repeat returns the session's last response verbatim, with no handler
// call and no re-shaping.
func (r *Router) repeat(ctx context.Context, req HandleRequest, parsed intent.Intent) *CommandResponse {
	sc, err := r.sessions.Get(ctx, req.UserID, req.SessionID)
	if err != nil || sc == nil || sc.LastSpoken == "" {
		return &CommandResponse{
			Response: ResponseBody{Type: "text", Text: "I haven't said anything yet."},
			Intent:   IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence},
		}
	}

	var cards []Card
	if len(sc.LastCards) > 0 {
		_ = json.Unmarshal(sc.LastCards, &cards)
	}
	return &CommandResponse{
		Response: ResponseBody{Type: "text", Text: sc.LastSpoken},
		Intent:   IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence},
		Cards:    cards,
	}
}

// confirmSpoken consumes the session's outstanding pending action.
func (r *Router) confirmSpoken(ctx context.Context, req HandleRequest, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	action, err := r.pendings.ConsumeLatest(ctx, req.UserID, req.SessionID)
	if err != nil {
		return r.noSuchAction(err, parsed, settings)
	}
	return r.execute(ctx, action, parsed, settings)
}

// cancel discards the session's outstanding pending action.
func (r *Router) cancel(ctx context.Context, req HandleRequest, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	_, err := r.pendings.Discard(ctx, req.UserID, req.SessionID)
	if err != nil {
		resp := &CommandResponse{
			Response: ResponseBody{Type: "text", Text: "There's nothing to cancel."},
			Intent:   IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence},
		}
		return resp
	}
	resp := &CommandResponse{
		Response: ResponseBody{Type: "text", Text: "Cancelled."},
		Intent:   IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence},
	}
	r.finish(ctx, req.UserID, req.SessionID, settings, resp)
	return resp
}

func (r *Router) noSuchAction(err error, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	message := "There's nothing waiting for confirmation."
	if errors.Is(err, pending.ErrExpired) {
		message = "That action expired. Ask again."
	}
	resp := errorResponse(KindNotFound, message, settings)
	resp.Intent = IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence}
	return resp
}

// Confirm consumes a pending action by token, for POST
// /v1/commands/confirm. The action must belong to the caller.
func (r *Router) Confirm(ctx context.Context, userID, token, idempotencyKey string) *CommandResponse {
	settings := profile.Lookup(r.profiles.Get(ctx, userID))

	if resp, ok := r.idempotentReplay(ctx, userID, idempotencyKey); ok {
		return resp
	}

	action, err := r.pendings.Consume(ctx, token)
	if err != nil {
		message := "That confirmation token is gone or already used."
		if errors.Is(err, pending.ErrExpired) {
			message = "That action expired. Ask again."
		}
		return errorResponse(KindNotFound, message, settings)
	}
	if action.UserID != userID {
		// Consuming another user's token burns it; do not reveal that it
		// existed.
		return errorResponse(KindNotFound, "That confirmation token is gone or already used.", settings)
	}

	unlock := r.locks.Lock(action.UserID + ":" + action.SessionID)
	defer unlock()

	parsed := intent.Intent{Name: action.IntentName, Confidence: 1.0, Entities: action.Entities}
	resp := r.execute(ctx, action, parsed, settings)
	r.idempotentStore(ctx, userID, idempotencyKey, resp)
	return resp
}

// execute runs the confirmed action's Execute path.
func (r *Router) execute(ctx context.Context, action *pending.Action, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	handler, ok := r.handlers[action.IntentName]
	if !ok {
		return errorResponse(KindInternal, "That action is no longer supported.", settings)
	}

	sc, _ := r.sessions.Get(ctx, action.UserID, action.SessionID)
	req := &Request{
		UserID:    action.UserID,
		SessionID: action.SessionID,
		Entities:  action.Entities,
		Session:   sc,
		Profile:   settings,
	}

	result := handler.Execute(ctx, req)
	resp := r.compose(result, parsed, settings)
	r.finish(ctx, action.UserID, action.SessionID, settings, resp)
	return resp
}

// dispatch invokes the handler for a parsed intent and weaves the
// pending-action protocol around side effects.
func (r *Router) dispatch(ctx context.Context, hreq HandleRequest, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	handler, ok := r.handlers[parsed.Name]
	if !ok {
		resp := errorResponse(KindInternal, "That command isn't wired up yet.", settings)
		resp.Intent = IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence, Entities: parsed.Entities}
		return resp
	}

	sc, _ := r.sessions.Get(ctx, hreq.UserID, hreq.SessionID)
	req := &Request{
		UserID:    hreq.UserID,
		SessionID: hreq.SessionID,
		Entities:  parsed.Entities,
		Session:   sc,
		Profile:   settings,
	}

	result := handler.Handle(ctx, req)

	// Side-effect weave: execute directly only under the never policy.
	if result.kind == resultPropose {
		if settings.Confirmation == profile.ConfirmNever {
			confirmReq := *req
			confirmReq.Entities = result.Entities
			result = handler.Execute(ctx, &confirmReq)
		} else {
			return r.propose(ctx, hreq, parsed, settings, result)
		}
	}

	resp := r.compose(result, parsed, settings)
	r.finish(ctx, hreq.UserID, hreq.SessionID, settings, resp)
	return resp
}

// propose creates the pending action and the confirmation prompt.
func (r *Router) propose(ctx context.Context, hreq HandleRequest, parsed intent.Intent, settings profile.Settings, result Result) *CommandResponse {
	action, err := r.pendings.Create(ctx, parsed.Name, result.Entities, result.Summary, hreq.UserID, hreq.SessionID, 0)
	if err != nil {
		r.logger.Error("creating pending action", "intent", parsed.Name, "error", err)
		return errorResponse(KindInternal, "I couldn't stage that action.", settings)
	}

	spoken := fmt.Sprintf("Ready to %s. Say confirm to proceed.", result.Summary)
	resp := &CommandResponse{
		Response: ResponseBody{Type: "text", Text: profile.Shape(spoken, settings)},
		Intent:   IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence, Entities: parsed.Entities},
		PendingAction: &PendingInfo{
			Token:     action.Token,
			ExpiresAt: action.ExpiresAt,
			Summary:   action.Summary,
		},
		NeedsConfirmation: true,
		SpeechRate:        settings.SpeechRate,
	}
	r.persistSession(ctx, hreq.UserID, hreq.SessionID, resp)
	return resp
}

// compose turns a handler result into a response, shaping spoken text.
func (r *Router) compose(result Result, parsed intent.Intent, settings profile.Settings) *CommandResponse {
	info := IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence, Entities: parsed.Entities}

	if result.kind == resultError {
		resp := errorResponse(result.ErrKind, result.Spoken, settings)
		resp.Intent = info
		return resp
	}

	return &CommandResponse{
		Response:   ResponseBody{Type: "text", Text: profile.Shape(result.Spoken, settings)},
		Intent:     info,
		Cards:      result.Cards,
		SpeechRate: settings.SpeechRate,
	}
}

// finish persists the response as the session's last response. Error
// responses are not persisted, so "repeat" repeats the last useful answer.
func (r *Router) finish(ctx context.Context, userID, sessionID string, settings profile.Settings, resp *CommandResponse) {
	if resp.Response.Type == "error" {
		return
	}
	r.persistSession(ctx, userID, sessionID, resp)
}

func (r *Router) persistSession(ctx context.Context, userID, sessionID string, resp *CommandResponse) {
	var cardsJSON json.RawMessage
	if len(resp.Cards) > 0 {
		if data, err := json.Marshal(resp.Cards); err == nil {
			cardsJSON = data
		}
	}
	if err := r.sessions.SetLastResponse(ctx, userID, sessionID, resp.Response.Text, cardsJSON); err != nil {
		r.logger.Warn("persisting session response", "user_id", userID, "error", err)
	}
}

// errorResponse builds a typed error response with the spoken message.
func errorResponse(kind ErrorKind, message string, settings profile.Settings) *CommandResponse {
	return &CommandResponse{
		Response: ResponseBody{
			Type:      "error",
			Text:      profile.Shape(message, settings),
			ErrorKind: string(kind),
		},
		SpeechRate: settings.SpeechRate,
	}
}

// idempotentReplay returns the stored response for (user, key) when one
// exists inside the window.
func (r *Router) idempotentReplay(ctx context.Context, userID, key string) (*CommandResponse, bool) {
	if key == "" {
		return nil, false
	}
	data, ok, err := r.kv.Get(ctx, idemKey(userID, key))
	if err != nil || !ok {
		return nil, false
	}
	var resp CommandResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (r *Router) idempotentStore(ctx context.Context, userID, key string, resp *CommandResponse) {
	if key == "" {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := r.kv.Set(ctx, idemKey(userID, key), data, r.idemWindow); err != nil {
		r.logger.Warn("storing idempotent response", "user_id", userID, "error", err)
	}
}

func idemKey(userID, key string) string {
	return "idem:" + userID + ":" + key
}
