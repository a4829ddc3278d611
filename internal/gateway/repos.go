// ABOUTME: Repo subscription HTTP handlers
// ABOUTME: Subscriptions connect webhook events to users for routing

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/store"
)

// repoSubscribeRequest is the JSON body of POST /v1/repos/subscriptions.
type repoSubscribeRequest struct {
	RepoFullName   string `json:"repo_full_name"`
	InstallationID *int64 `json:"installation_id,omitempty"`
}

// repoSubscriptionJSON is the wire form of a repo subscription.
type repoSubscriptionJSON struct {
	RepoFullName   string    `json:"repo_full_name"`
	InstallationID *int64    `json:"installation_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Server) handleRepoSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		subs, err := s.store.ListRepoSubscriptions(r.Context(), identity.UserID)
		if err != nil {
			jsonError(w, r, "listing failed", http.StatusInternalServerError)
			return
		}
		out := make([]repoSubscriptionJSON, 0, len(subs))
		for _, sub := range subs {
			out = append(out, repoSubscriptionJSON{
				RepoFullName:   sub.RepoFullName,
				InstallationID: sub.InstallationID,
				CreatedAt:      sub.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out, "count": len(out)})

	case http.MethodPost:
		var req repoSubscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RepoFullName == "" {
			jsonError(w, r, "repo_full_name is required", http.StatusBadRequest)
			return
		}
		if !strings.Contains(req.RepoFullName, "/") {
			jsonError(w, r, "repo_full_name must be owner/repo", http.StatusBadRequest)
			return
		}
		sub := &store.RepoSubscription{
			UserID:         identity.UserID,
			RepoFullName:   req.RepoFullName,
			InstallationID: req.InstallationID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.SaveRepoSubscription(r.Context(), sub); err != nil {
			jsonError(w, r, "subscription failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, repoSubscriptionJSON{
			RepoFullName:   sub.RepoFullName,
			InstallationID: sub.InstallationID,
			CreatedAt:      sub.CreatedAt,
		})

	default:
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRepoSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	repo := strings.TrimPrefix(r.URL.Path, "/v1/repos/subscriptions/")
	if repo == "" {
		jsonError(w, r, "repository required", http.StatusBadRequest)
		return
	}

	err := s.store.DeleteRepoSubscription(r.Context(), identity.UserID, repo)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, r, "subscription not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, r, "deletion failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
