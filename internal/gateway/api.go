// ABOUTME: Command, confirm, TTS, and dev-audio HTTP handlers
// ABOUTME: Translates command error kinds onto HTTP status codes

package gateway

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/command"
)

// commandRequest is the JSON body of POST /v1/command.
type commandRequest struct {
	Input          command.Input  `json:"input"`
	Profile        string         `json:"profile,omitempty"`
	ClientContext  map[string]any `json:"client_context,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// confirmRequest is the JSON body of POST /v1/commands/confirm.
type confirmRequest struct {
	Token          string `json:"token"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ttsRequest is the JSON body of POST /v1/tts.
type ttsRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// devAudioRequest is the JSON body of POST /v1/dev/audio.
type devAudioRequest struct {
	DataBase64 string `json:"data_base64"`
	Format     string `json:"format,omitempty"`
}

// commandStatus maps a command response onto its HTTP status.
func commandStatus(resp *command.CommandResponse) int {
	if resp.Response.Type != "error" {
		return http.StatusOK
	}
	return command.ErrorKind(resp.Response.ErrorKind).HTTPStatus()
}

// sessionID derives the session key for a request: an explicit client
// session if sent, otherwise a per-user default.
func sessionID(clientContext map[string]any) string {
	if id, ok := clientContext["session_id"].(string); ok && id != "" {
		return id
	}
	return "default"
}

func clientDebug(clientContext map[string]any) bool {
	debug, ok := clientContext["debug"].(bool)
	return ok && debug
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, r, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Input.Type != "text" && req.Input.Type != "audio" {
		jsonError(w, r, "input.type must be text or audio", http.StatusBadRequest)
		return
	}

	resp := s.router.Handle(r.Context(), command.HandleRequest{
		UserID:         identity.UserID,
		SessionID:      sessionID(req.ClientContext),
		Input:          req.Input,
		Profile:        req.Profile,
		IdempotencyKey: req.IdempotencyKey,
		Debug:          clientDebug(req.ClientContext),
	})

	if s.metrics != nil {
		s.metrics.CommandHandled(resp.Intent.Name, resp.Response.Type == "error")
	}
	writeJSON(w, commandStatus(resp), resp)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		jsonError(w, r, "token is required", http.StatusBadRequest)
		return
	}

	resp := s.router.Confirm(r.Context(), identity.UserID, req.Token, req.IdempotencyKey)
	if s.metrics != nil {
		s.metrics.CommandHandled(resp.Intent.Name, resp.Response.Type == "error")
	}
	writeJSON(w, commandStatus(resp), resp)
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		jsonError(w, r, "text is required", http.StatusBadRequest)
		return
	}
	format := req.Format
	if format == "" {
		format = "wav"
	}

	audio, err := s.tts.Synthesize(r.Context(), req.Text, req.Voice, format)
	if err != nil {
		s.logger.Warn("tts synthesis failed", "error", err)
		jsonError(w, r, "synthesis failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "audio/"+format)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// handleDevAudio stores a base64 payload to a tmp file and returns its
// file:// URI, for driving the audio input path locally.
func (s *Server) handleDevAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req devAudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DataBase64 == "" {
		jsonError(w, r, "data_base64 is required", http.StatusBadRequest)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		jsonError(w, r, "data_base64 is not valid base64", http.StatusBadRequest)
		return
	}

	format := req.Format
	if format == "" {
		format = "wav"
	}
	path := filepath.Join(os.TempDir(), "visor-audio-"+uuid.NewString()+"."+format)
	if err := os.WriteFile(path, data, 0600); err != nil {
		jsonError(w, r, "could not store audio", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"uri": "file://" + path})
}
