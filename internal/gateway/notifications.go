// ABOUTME: Notification query and subscription HTTP handlers
// ABOUTME: All operations are scoped to the authenticated user

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/store"
)

// notificationJSON is the wire form of a notification.
type notificationJSON struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  int            `json:"priority"`
	Profile   string         `json:"profile"`
	CreatedAt time.Time      `json:"created_at"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
}

func toNotificationJSON(n *store.Notification) notificationJSON {
	return notificationJSON{
		ID:        n.ID,
		EventType: n.EventType,
		Message:   n.Message,
		Metadata:  n.Metadata,
		Priority:  n.Priority,
		Profile:   n.Profile,
		CreatedAt: n.CreatedAt,
		ReadAt:    n.ReadAt,
	}
}

// subscriptionJSON is the wire form of a push subscription.
type subscriptionJSON struct {
	ID        string            `json:"id"`
	Platform  string            `json:"platform"`
	Endpoint  string            `json:"endpoint"`
	Keys      map[string]string `json:"keys,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// subscribeRequest is the JSON body of POST /v1/notifications/subscriptions.
type subscribeRequest struct {
	Endpoint         string            `json:"endpoint"`
	Platform         string            `json:"platform"`
	SubscriptionKeys map[string]string `json:"subscription_keys,omitempty"`
}

// handleNotifications serves GET /v1/notifications.
func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, r, "since must be RFC3339", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			jsonError(w, r, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	notifications, err := s.notify.List(r.Context(), identity.UserID, since, limit)
	if err != nil {
		s.logger.Error("listing notifications", "error", err)
		jsonError(w, r, "listing failed", http.StatusInternalServerError)
		return
	}

	out := make([]notificationJSON, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, toNotificationJSON(n))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": out,
		"count":         len(out),
		"request_id":    requestID(r),
	})
}

// handleNotificationRoutes serves /v1/notifications/{id},
// /v1/notifications/{id}/read, and /v1/notifications/subscriptions[/{id}].
func (s *Server) handleNotificationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")

	if rest == "subscriptions" {
		s.handleNotificationSubscriptions(w, r)
		return
	}
	if id, ok := strings.CutPrefix(rest, "subscriptions/"); ok {
		s.handleNotificationSubscriptionDelete(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(rest, "/read"); ok {
		s.handleNotificationRead(w, r, id)
		return
	}
	s.handleNotificationGet(w, r, rest)
}

func (s *Server) handleNotificationGet(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	n, err := s.notify.Get(r.Context(), identity.UserID, id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, r, "notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, r, "lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toNotificationJSON(n))
}

func (s *Server) handleNotificationRead(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	err := s.notify.MarkRead(r.Context(), identity.UserID, id)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, r, "notification not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, r, "update failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotificationSubscriptions(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())

	switch r.Method {
	case http.MethodGet:
		subs, err := s.notify.Subscriptions(r.Context(), identity.UserID)
		if err != nil {
			jsonError(w, r, "listing failed", http.StatusInternalServerError)
			return
		}
		out := make([]subscriptionJSON, 0, len(subs))
		for _, sub := range subs {
			out = append(out, subscriptionJSON{
				ID: sub.ID, Platform: sub.Platform, Endpoint: sub.Endpoint,
				Keys: sub.Keys, CreatedAt: sub.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out, "count": len(out)})

	case http.MethodPost:
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
			jsonError(w, r, "endpoint is required", http.StatusBadRequest)
			return
		}
		switch req.Platform {
		case "apns", "fcm", "webpush":
		default:
			jsonError(w, r, "platform must be apns, fcm, or webpush", http.StatusBadRequest)
			return
		}
		sub, err := s.notify.Subscribe(r.Context(), identity.UserID, req.Platform, req.Endpoint, req.SubscriptionKeys)
		if err != nil {
			jsonError(w, r, "subscription failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, subscriptionJSON{
			ID: sub.ID, Platform: sub.Platform, Endpoint: sub.Endpoint,
			Keys: sub.Keys, CreatedAt: sub.CreatedAt,
		})

	default:
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleNotificationSubscriptionDelete(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	identity := auth.FromContext(r.Context())

	err := s.notify.Unsubscribe(r.Context(), identity.UserID, id)
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
