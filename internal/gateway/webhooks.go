// ABOUTME: Webhook ingestion and dev retry HTTP handlers
// ABOUTME: Replies 202 on accept or duplicate, 400 on a bad signature

package gateway

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/2389/visor-gateway/internal/store"
	"github.com/2389/visor-gateway/internal/webhook"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 5 << 20

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	deliveryID := r.Header.Get("X-GitHub-Delivery")
	signature := r.Header.Get("X-Hub-Signature-256")
	if eventType == "" || deliveryID == "" {
		jsonError(w, r, "missing event headers", http.StatusBadRequest)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		jsonError(w, r, "reading payload", http.StatusBadRequest)
		return
	}

	status, err := s.ingestor.Ingest(r.Context(), eventType, deliveryID, signature, payload)
	if s.metrics != nil {
		s.metrics.WebhookReceived(eventType, status)
	}
	if err != nil {
		if errors.Is(err, webhook.ErrBadSignature) {
			jsonError(w, r, "signature mismatch", status)
			return
		}
		jsonError(w, r, "ingestion failed", status)
		return
	}
	writeJSON(w, status, map[string]string{"status": "accepted", "request_id": requestID(r)})
}

func (s *Server) handleWebhookRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, r, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	eventID := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/retry/")
	if eventID == "" {
		jsonError(w, r, "event id required", http.StatusBadRequest)
		return
	}

	if err := s.ingestor.Retry(r.Context(), eventID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			jsonError(w, r, "event not found", http.StatusNotFound)
			return
		}
		jsonError(w, r, "retry failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "request_id": requestID(r)})
}
