// ABOUTME: Notification service: creation with dedupe and throttling, queries, delivery fan-out
// ABOUTME: Delivery failures are logged and never affect persistence

package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/store"
)

// DefaultDedupeWindow collapses identical notifications created within it.
const DefaultDedupeWindow = 300 * time.Second

const (
	defaultListLimit = 50
	maxListLimit     = 100
)

// CreateInput is the input to Service.Create. Priority zero means "derive
// from the event type".
type CreateInput struct {
	UserID    string
	EventType string
	Message   string
	Metadata  map[string]any
	Profile   string
	Priority  int
}

// Service owns notification creation, queries, subscriptions, and delivery.
type Service struct {
	store        store.Store
	registry     *Registry
	dedupeWindow time.Duration
	logger       *slog.Logger
	onCreate     func(eventType string)
}

// OnCreate registers a hook invoked after each persisted notification,
// used for metrics. Must be called before the service handles traffic.
func (s *Service) OnCreate(fn func(eventType string)) {
	s.onCreate = fn
}

// NewService creates the notification service. window zero means
// DefaultDedupeWindow.
func NewService(st store.Store, registry *Registry, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		registry:     registry,
		dedupeWindow: window,
		logger:       logger.With("component", "notify"),
	}
}

// DedupeKey hashes the semantic "same event" fields: event type, repo, and
// whichever reference is present (PR, issue, branch, or commit).
func DedupeKey(eventType string, metadata map[string]any) string {
	repo, _ := metadata["repo"].(string)
	ref := firstRef(metadata)
	sum := sha256.Sum256([]byte(strings.Join([]string{eventType, repo, ref}, "|")))
	return hex.EncodeToString(sum[:])
}

func firstRef(metadata map[string]any) string {
	for _, key := range []string{"pr_number", "issue_number", "ref", "sha"} {
		switch v := metadata[key].(type) {
		case string:
			if v != "" {
				return key + "=" + v
			}
		case int:
			return fmt.Sprintf("%s=%d", key, v)
		case float64:
			return fmt.Sprintf("%s=%d", key, int(v))
		}
	}
	return ""
}

// Create persists a notification unless it is collapsed by the dedupe
// window or throttled below the profile threshold; both return (nil, nil).
// Delivery runs after a successful insert and never affects the result.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Notification, error) {
	priority := in.Priority
	if priority == 0 {
		priority = PriorityFor(in.EventType)
	}

	profileName := in.Profile
	if profileName == "" {
		profileName = profile.Default
	}

	if priority < profile.Threshold(profileName) {
		s.logger.Debug("notification throttled",
			"user_id", in.UserID, "event_type", in.EventType,
			"priority", priority, "profile", profileName)
		return nil, nil
	}

	dedupeKey := DedupeKey(in.EventType, in.Metadata)
	existing, err := s.store.LatestByDedupeKey(ctx, in.UserID, dedupeKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}
	if existing != nil && time.Since(existing.CreatedAt) < s.dedupeWindow {
		s.logger.Debug("notification collapsed by dedupe window",
			"user_id", in.UserID, "event_type", in.EventType, "dedupe_key", dedupeKey)
		return nil, nil
	}

	n := &store.Notification{
		ID:        uuid.NewString(),
		UserID:    in.UserID,
		EventType: in.EventType,
		Message:   in.Message,
		Metadata:  in.Metadata,
		Priority:  priority,
		Profile:   profileName,
		DedupeKey: dedupeKey,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	if s.onCreate != nil {
		s.onCreate(n.EventType)
	}

	s.deliver(ctx, n)
	return n, nil
}

// deliver fans the notification out to the user's registered endpoints.
// Errors are logged, never propagated; the notification is already
// persisted.
func (s *Service) deliver(ctx context.Context, n *store.Notification) {
	subs, err := s.store.ListNotificationSubscriptions(ctx, n.UserID)
	if err != nil {
		s.logger.Error("listing subscriptions for delivery", "user_id", n.UserID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"id":         n.ID,
		"event_type": n.EventType,
		"message":    n.Message,
		"priority":   n.Priority,
		"metadata":   n.Metadata,
		"created_at": n.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Error("encoding push payload", "error", err)
		return
	}

	for _, sub := range subs {
		provider := s.registry.For(sub.Platform)
		sendCtx, cancel := context.WithTimeout(ctx, perEndpointTimeout)
		if err := provider.Send(sendCtx, sub.Endpoint, payload); err != nil {
			s.logger.Warn("push delivery failed",
				"provider", provider.Name(), "platform", sub.Platform,
				"endpoint", sub.Endpoint, "error", err)
		}
		cancel()
	}
}

// List returns the user's notifications newest-first. The limit defaults
// to 50 and caps at 100.
func (s *Service) List(ctx context.Context, userID string, since time.Time, limit int) ([]*store.Notification, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListNotifications(ctx, userID, since, limit)
}

// Get returns one notification scoped to the user.
func (s *Service) Get(ctx context.Context, userID, id string) (*store.Notification, error) {
	return s.store.GetNotification(ctx, userID, id)
}

// MarkRead sets the notification's read_at.
func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkNotificationRead(ctx, userID, id, time.Now().UTC())
}

// Subscribe upserts a push registration for the user.
func (s *Service) Subscribe(ctx context.Context, userID, platform, endpoint string, keys map[string]string) (*store.NotificationSubscription, error) {
	sub := &store.NotificationSubscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Platform:  platform,
		Endpoint:  endpoint,
		Keys:      keys,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.SaveNotificationSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("saving subscription: %w", err)
	}
	return sub, nil
}

// Subscriptions lists the user's push registrations.
func (s *Service) Subscriptions(ctx context.Context, userID string) ([]*store.NotificationSubscription, error) {
	return s.store.ListNotificationSubscriptions(ctx, userID)
}

// Unsubscribe deletes a push registration.
func (s *Service) Unsubscribe(ctx context.Context, userID, id string) error {
	return s.store.DeleteNotificationSubscription(ctx, userID, id)
}
