// ABOUTME: Webhook ingestion: signature verify, replay-protected persist, route, notify
// ABOUTME: The event-log insert is the linearization point; duplicates reply 202 and stop

package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/go-github/v69/github"
	"github.com/google/uuid"

	"github.com/2389/visor-gateway/internal/agenttask"
	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/store"
)

// devSignature is accepted when no webhook secret is configured.
const devSignature = "dev"

// ErrBadSignature maps to a 400 at the HTTP edge.
var ErrBadSignature = errors.New("webhook signature mismatch")

// ProfileSource supplies a user's active profile for notification
// throttling.
type ProfileSource interface {
	Get(ctx context.Context, userID string) string
}

// Ingestor runs the webhook pipeline.
type Ingestor struct {
	store    store.Store
	notify   *notify.Service
	tasks    *agenttask.Service
	profiles ProfileSource
	secret   string
	logger   *slog.Logger
}

// NewIngestor creates the ingestor. An empty secret enables the dev
// signature bypass.
func NewIngestor(st store.Store, notifier *notify.Service, tasks *agenttask.Service, profiles ProfileSource, secret string, logger *slog.Logger) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{
		store:    st,
		notify:   notifier,
		tasks:    tasks,
		profiles: profiles,
		secret:   secret,
		logger:   logger.With("component", "webhook"),
	}
}

// Ingest runs the pipeline for one delivery and returns the HTTP status to
// reply with: 202 on accept or duplicate, 400 on a bad signature. Failures
// after the event is persisted still reply 202 so the sender does not
// retry a stored delivery.
func (i *Ingestor) Ingest(ctx context.Context, eventType, deliveryID, signature string, payload []byte) (int, error) {
	if err := i.verify(signature, payload); err != nil {
		i.logger.Warn("webhook rejected", "delivery_id", deliveryID, "error", err)
		return http.StatusBadRequest, err
	}

	event := &store.WebhookEvent{
		ID:          uuid.NewString(),
		Source:      "github",
		EventType:   eventType,
		DeliveryID:  deliveryID,
		SignatureOK: true,
		Payload:     payload,
	}
	if err := i.store.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrDuplicateDelivery) {
			i.logger.Debug("duplicate delivery ignored", "delivery_id", deliveryID)
			return http.StatusAccepted, nil
		}
		return http.StatusInternalServerError, fmt.Errorf("persisting event: %w", err)
	}

	i.process(ctx, event)
	return http.StatusAccepted, nil
}

// verify checks the delivery signature. With no secret configured only the
// literal dev signature is accepted.
func (i *Ingestor) verify(signature string, payload []byte) error {
	if i.secret == "" {
		if signature == devSignature {
			return nil
		}
		return fmt.Errorf("%w: dev mode requires the %q signature", ErrBadSignature, devSignature)
	}
	if err := github.ValidateSignature(signature, payload, []byte(i.secret)); err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return nil
}

// process runs normalization, routing, notification, and correlation for a
// persisted event, then records the outcome. Failures mark the event
// processed_ok=false; they never bubble to the HTTP reply.
func (i *Ingestor) process(ctx context.Context, event *store.WebhookEvent) {
	if err := i.processOnce(ctx, event); err != nil {
		i.logger.Error("webhook processing failed",
			"event_id", event.ID, "event_type", event.EventType, "error", err)
		if merr := i.store.MarkEventProcessed(ctx, event.ID, false, err.Error()); merr != nil {
			i.logger.Error("marking event failed", "event_id", event.ID, "error", merr)
		}
		return
	}
	if err := i.store.MarkEventProcessed(ctx, event.ID, true, ""); err != nil {
		i.logger.Error("marking event processed", "event_id", event.ID, "error", err)
	}
}

func (i *Ingestor) processOnce(ctx context.Context, event *store.WebhookEvent) error {
	normalized, err := normalize(event.EventType, event.Payload)
	if err != nil {
		return err
	}
	if normalized == nil {
		// Stored but not processed further.
		i.logger.Debug("event type not normalized", "event_type", event.EventType)
		return nil
	}

	userIDs, err := i.route(ctx, normalized)
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		profileName := ""
		if i.profiles != nil {
			profileName = i.profiles.Get(ctx, userID)
		}
		_, err := i.notify.Create(ctx, notify.CreateInput{
			UserID:    userID,
			EventType: normalized.EventType,
			Message:   normalized.Message,
			Metadata:  normalized.metadata(),
			Profile:   profileName,
		})
		if err != nil {
			return fmt.Errorf("notifying %s: %w", userID, err)
		}
	}

	if i.tasks != nil && normalized.PRNumber > 0 && event.EventType == "pull_request" {
		i.tasks.TryCorrelate(ctx, agenttask.CorrelationInput{
			Repo:     normalized.Repo,
			PRNumber: normalized.PRNumber,
			PRBody:   normalized.PRBody,
			PRURL:    normalized.URL,
		})
	}
	return nil
}

// route returns the union of users subscribed to the repository and users
// connected via the delivery's installation id.
func (i *Ingestor) route(ctx context.Context, n *Normalized) ([]string, error) {
	seen := make(map[string]struct{})
	var userIDs []string

	add := func(subs []*store.RepoSubscription) {
		for _, sub := range subs {
			if _, ok := seen[sub.UserID]; ok {
				continue
			}
			seen[sub.UserID] = struct{}{}
			userIDs = append(userIDs, sub.UserID)
		}
	}

	subs, err := i.store.ListRepoSubscribers(ctx, n.Repo)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscribers: %w", err)
	}
	add(subs)

	if n.InstallationID != 0 {
		installSubs, err := i.store.ListInstallationSubscribers(ctx, n.InstallationID)
		if err != nil {
			return nil, fmt.Errorf("listing installation subscribers: %w", err)
		}
		add(installSubs)
	}
	return userIDs, nil
}

// Retry re-runs processing for a stored event; dev-only surface.
func (i *Ingestor) Retry(ctx context.Context, eventID string) error {
	event, err := i.store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	i.process(ctx, event)
	return nil
}

// Recover re-processes events whose outcome was never recorded, typically
// after a crash between insert and fan-out. Called once at startup.
func (i *Ingestor) Recover(ctx context.Context) error {
	events, err := i.store.ListUnprocessedEvents(ctx, 500)
	if err != nil {
		return fmt.Errorf("listing unprocessed events: %w", err)
	}
	for _, event := range events {
		i.logger.Info("recovering unprocessed event", "event_id", event.ID, "event_type", event.EventType)
		i.process(ctx, event)
	}
	return nil
}
