// ABOUTME: HTTP middleware resolving caller identity on API endpoints
// ABOUTME: Rejects unauthenticated requests with a JSON 401 and logs failures

package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// logAuthFailure logs an HTTP authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, r *http.Request, err error) {
	if logger == nil {
		return
	}
	logger.Warn("http auth failure",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr,
	)
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error string `json:"error"`
}

// Middleware resolves the caller identity and injects it into the request
// context. Requests with no resolvable identity get a 401.
func Middleware(resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := resolver.Resolve(r)
			if err != nil {
				logAuthFailure(logger, r, err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(errorResponse{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}
