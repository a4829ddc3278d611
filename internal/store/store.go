// ABOUTME: Store interface and data types for visor-gateway persistence
// ABOUTME: Defines webhook events, notifications, subscriptions, agent tasks, and repo policies

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateDelivery is returned when inserting a webhook event whose
// (source, delivery_id) pair is already present. The insert is the
// linearization point for replay protection; callers must treat a duplicate
// as a no-op.
var ErrDuplicateDelivery = errors.New("delivery already recorded")

// WebhookEvent is one persisted webhook delivery. Rows are append-only:
// only the processed_* triple is ever updated after insert.
type WebhookEvent struct {
	ID              string
	Source          string // e.g. "github"
	EventType       string // upstream event type header
	DeliveryID      string
	SignatureOK     bool
	Payload         []byte
	ReceivedAt      time.Time
	ProcessedOK     *bool
	ProcessingError *string
	ProcessedAt     *time.Time
}

// Notification is a per-user notification row.
type Notification struct {
	ID        string
	UserID    string
	EventType string
	Message   string
	Metadata  map[string]any
	Priority  int // 1..5
	Profile   string
	DedupeKey string
	CreatedAt time.Time
	ReadAt    *time.Time
}

// NotificationSubscription is a push endpoint registration. A registration
// is unique per (user_id, platform, endpoint); re-registering replaces the
// older row.
type NotificationSubscription struct {
	ID        string
	UserID    string
	Platform  string // apns, fcm, webpush
	Endpoint  string
	Keys      map[string]string
	CreatedAt time.Time
}

// RepoSubscription routes webhook events for a repository to a user.
type RepoSubscription struct {
	UserID         string
	RepoFullName   string
	InstallationID *int64
	CreatedAt      time.Time
}

// TaskState is the lifecycle state of an agent task.
type TaskState string

const (
	TaskStateCreated   TaskState = "created"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// Terminal reports whether no further transitions are legal from s.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCancelled:
		return true
	}
	return false
}

// AgentTask is a delegated unit of work dispatched to an external agent.
type AgentTask struct {
	ID          string
	UserID      string
	Provider    string
	Instruction string
	State       TaskState
	Trace       map[string]any // grows monotonically
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RepoPolicy gates write-class handlers per (user, repo).
type RepoPolicy struct {
	UserID       string
	RepoFullName string
	AllowWrite   bool
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	Source    string
	EventType string
	Limit     int // defaults to 50
}

// EventLog is the append-only webhook event store.
type EventLog interface {
	// InsertEvent persists a new event, setting ReceivedAt. Returns
	// ErrDuplicateDelivery if (source, delivery_id) is already present.
	InsertEvent(ctx context.Context, event *WebhookEvent) error
	GetEvent(ctx context.Context, id string) (*WebhookEvent, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*WebhookEvent, error)
	// MarkEventProcessed records the processing outcome. procErr is stored
	// only when ok is false.
	MarkEventProcessed(ctx context.Context, id string, ok bool, procErr string) error
	// ListUnprocessedEvents returns events whose processing outcome was
	// never recorded, oldest first. Used by the startup recovery scan.
	ListUnprocessedEvents(ctx context.Context, limit int) ([]*WebhookEvent, error)
}

// NotificationStore persists notifications and both subscription kinds.
type NotificationStore interface {
	InsertNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, userID, id string) (*Notification, error)
	// ListNotifications returns the user's notifications newest-first,
	// optionally restricted to those created at or after since.
	ListNotifications(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error)
	// LatestByDedupeKey returns the newest notification for the pair, or
	// ErrNotFound.
	LatestByDedupeKey(ctx context.Context, userID, dedupeKey string) (*Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error

	// SaveNotificationSubscription upserts on (user_id, platform, endpoint).
	SaveNotificationSubscription(ctx context.Context, sub *NotificationSubscription) error
	ListNotificationSubscriptions(ctx context.Context, userID string) ([]*NotificationSubscription, error)
	DeleteNotificationSubscription(ctx context.Context, userID, id string) error

	// SaveRepoSubscription upserts on (user_id, repo_full_name).
	SaveRepoSubscription(ctx context.Context, sub *RepoSubscription) error
	ListRepoSubscriptions(ctx context.Context, userID string) ([]*RepoSubscription, error)
	// ListRepoSubscribers returns every subscription for a repository,
	// across users.
	ListRepoSubscribers(ctx context.Context, repoFullName string) ([]*RepoSubscription, error)
	// ListInstallationSubscribers returns every subscription connected to
	// a code-host installation.
	ListInstallationSubscribers(ctx context.Context, installationID int64) ([]*RepoSubscription, error)
	DeleteRepoSubscription(ctx context.Context, userID, repoFullName string) error
}

// AgentTaskStore persists agent tasks.
type AgentTaskStore interface {
	InsertTask(ctx context.Context, task *AgentTask) error
	GetTask(ctx context.Context, id string) (*AgentTask, error)
	// ListTasks returns a user's tasks newest-first; state filters when
	// non-empty.
	ListTasks(ctx context.Context, userID string, state TaskState) ([]*AgentTask, error)
	// ListTasksByState returns tasks in the given state across users,
	// oldest first. Used by webhook correlation.
	ListTasksByState(ctx context.Context, state TaskState, limit int) ([]*AgentTask, error)
	// UpdateTask persists State, Trace, and UpdatedAt for the task.
	UpdateTask(ctx context.Context, task *AgentTask) error
}

// RepoPolicyStore persists write policies.
type RepoPolicyStore interface {
	// GetRepoPolicy returns ErrNotFound when no explicit policy exists;
	// callers treat that as allow.
	GetRepoPolicy(ctx context.Context, userID, repoFullName string) (*RepoPolicy, error)
	SaveRepoPolicy(ctx context.Context, policy *RepoPolicy) error
}

// Store is the full persistence surface.
type Store interface {
	EventLog
	NotificationStore
	AgentTaskStore
	RepoPolicyStore

	// Close releases any resources held by the store.
	Close() error
}
