// ABOUTME: HTTP server wiring for the v1 API surface
// ABOUTME: Routes commands, webhooks, notifications, repos, speech, and status

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/command"
	"github.com/2389/visor-gateway/internal/metrics"
	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/speech"
	"github.com/2389/visor-gateway/internal/store"
	"github.com/2389/visor-gateway/internal/webhook"
)

// Options configures the HTTP server.
type Options struct {
	Addr           string
	Version        string
	AuthMode       string
	STTProvider    string
	TTSProvider    string
	MetricsEnabled bool
	DevEndpoints   bool
}

// Server is the HTTP surface of the gateway.
type Server struct {
	opts     Options
	router   *command.Router
	notify   *notify.Service
	ingestor *webhook.Ingestor
	store    store.Store
	tts      speech.Synthesizer
	resolver auth.Resolver
	metrics  *metrics.Metrics
	logger   *slog.Logger
	http     *http.Server
}

// New creates the server.
func New(opts Options, router *command.Router, notifier *notify.Service, ingestor *webhook.Ingestor, st store.Store, tts speech.Synthesizer, resolver auth.Resolver, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:     opts,
		router:   router,
		notify:   notifier,
		ingestor: ingestor,
		store:    st,
		tts:      tts,
		resolver: resolver,
		metrics:  m,
		logger:   logger.With("component", "gateway"),
	}
}

// Handler builds the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Unauthenticated surfaces.
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/webhooks/github", s.handleWebhook)
	if s.opts.DevEndpoints {
		mux.HandleFunc("/v1/webhooks/retry/", s.handleWebhookRetry)
	}
	if s.opts.MetricsEnabled && s.metrics != nil {
		mux.Handle("/v1/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	// Authenticated API.
	authMiddleware := auth.Middleware(s.resolver, s.logger)
	api := func(h http.HandlerFunc) http.Handler { return authMiddleware(h) }

	mux.Handle("/v1/command", api(s.handleCommand))
	mux.Handle("/v1/commands/confirm", api(s.handleConfirm))
	mux.Handle("/v1/tts", api(s.handleTTS))
	if s.opts.DevEndpoints {
		mux.Handle("/v1/dev/audio", api(s.handleDevAudio))
	}
	mux.Handle("/v1/notifications", api(s.handleNotifications))
	mux.Handle("/v1/notifications/", api(s.handleNotificationRoutes))
	mux.Handle("/v1/repos/subscriptions", api(s.handleRepoSubscriptions))
	mux.Handle("/v1/repos/subscriptions/", api(s.handleRepoSubscriptionDelete))

	return s.withRequestID(mux)
}

// Start begins serving; it returns when the listener stops.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server listening", "addr", s.opts.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type requestIDKey struct{}

// withRequestID tags every request and response with a request id.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// The response is already partially written; nothing to do.
		_ = err
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// jsonError writes a JSON error with the given status code.
func jsonError(w http.ResponseWriter, r *http.Request, message string, status int) {
	writeJSON(w, status, errorBody{Error: message, RequestID: requestID(r)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"version":      s.opts.Version,
		"stt_provider": s.opts.STTProvider,
		"tts_provider": s.opts.TTSProvider,
		"auth_mode":    s.opts.AuthMode,
		"request_id":   requestID(r),
	})
}
