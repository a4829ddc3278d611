// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides durable persistence with automatic schema creation and WAL mode

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout stores UTC timestamps with a fixed-width fraction so that
// lexicographic ordering of stored strings matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. ":memory:"
// opens an in-memory database for tests. The schema is created if missing
// and parent directories are created as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// Schema segments split for maintainability.
var (
	schemaEventsSQL = `
CREATE TABLE IF NOT EXISTS webhook_events (id TEXT PRIMARY KEY, source TEXT NOT NULL, event_type TEXT NOT NULL, delivery_id TEXT NOT NULL, signature_ok INTEGER NOT NULL, payload BLOB NOT NULL, received_at TEXT NOT NULL, processed_ok INTEGER, processing_error TEXT, processed_at TEXT);
CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_delivery ON webhook_events(source, delivery_id);
CREATE INDEX IF NOT EXISTS idx_webhook_events_processed ON webhook_events(processed_ok, processed_at);
`
	schemaNotificationsSQL = `
CREATE TABLE IF NOT EXISTS notifications (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, event_type TEXT NOT NULL, message TEXT NOT NULL, metadata_json TEXT, priority INTEGER NOT NULL, profile TEXT NOT NULL, dedupe_key TEXT NOT NULL, created_at TEXT NOT NULL, read_at TEXT);
CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_dedupe ON notifications(dedupe_key, created_at);
CREATE TABLE IF NOT EXISTS notification_subscriptions (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, platform TEXT NOT NULL, endpoint TEXT NOT NULL, keys_json TEXT, created_at TEXT NOT NULL, CHECK (platform IN ('apns', 'fcm', 'webpush')));
CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_subs_endpoint ON notification_subscriptions(user_id, platform, endpoint);
CREATE TABLE IF NOT EXISTS repo_subscriptions (user_id TEXT NOT NULL, repo_full_name TEXT NOT NULL, installation_id INTEGER, created_at TEXT NOT NULL, PRIMARY KEY (user_id, repo_full_name));
CREATE INDEX IF NOT EXISTS idx_repo_subscriptions_repo ON repo_subscriptions(repo_full_name);
CREATE INDEX IF NOT EXISTS idx_repo_subscriptions_installation ON repo_subscriptions(installation_id) WHERE installation_id IS NOT NULL;
`
	schemaTasksSQL = `
CREATE TABLE IF NOT EXISTS agent_tasks (id TEXT PRIMARY KEY, user_id TEXT NOT NULL, provider TEXT NOT NULL, instruction TEXT NOT NULL, state TEXT NOT NULL, trace_json TEXT, created_at TEXT NOT NULL, updated_at TEXT NOT NULL, CHECK (state IN ('created', 'running', 'completed', 'failed', 'cancelled')));
CREATE INDEX IF NOT EXISTS idx_agent_tasks_user_state ON agent_tasks(user_id, state);
CREATE INDEX IF NOT EXISTS idx_agent_tasks_state ON agent_tasks(state);
CREATE TABLE IF NOT EXISTS repo_policies (user_id TEXT NOT NULL, repo_full_name TEXT NOT NULL, allow_write INTEGER NOT NULL, PRIMARY KEY (user_id, repo_full_name));
`
)

func (s *SQLiteStore) createSchema() error {
	for _, segment := range []string{schemaEventsSQL, schemaNotificationsSQL, schemaTasksSQL} {
		if _, err := s.db.Exec(segment); err != nil {
			return err
		}
	}
	return nil
}

// isUniqueConstraintError checks if an error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	// SQLite returns "UNIQUE constraint failed" in the error message
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "unique constraint"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := formatTime(*t)
	return &v
}

func parseTimePtr(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalJSONMap[V any](m map[string]V) (*string, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	v := string(data)
	return &v, nil
}

func unmarshalJSONMap[V any](s *string) (map[string]V, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	var m map[string]V
	if err := json.Unmarshal([]byte(*s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// --- Event log ---

// InsertEvent persists a webhook event, setting ReceivedAt. The unique
// (source, delivery_id) index is the linearization point for replay
// protection.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *WebhookEvent) error {
	event.ReceivedAt = time.Now().UTC()

	query := `
		INSERT INTO webhook_events (id, source, event_type, delivery_id, signature_ok, payload, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Source,
		event.EventType,
		event.DeliveryID,
		event.SignatureOK,
		event.Payload,
		formatTime(event.ReceivedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateDelivery
		}
		return fmt.Errorf("inserting webhook event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanEvent(row interface {
	Scan(dest ...any) error
}) (*WebhookEvent, error) {
	var (
		event        WebhookEvent
		receivedAt   string
		processedOK  sql.NullBool
		processedErr sql.NullString
		processedAt  sql.NullString
	)
	err := row.Scan(
		&event.ID,
		&event.Source,
		&event.EventType,
		&event.DeliveryID,
		&event.SignatureOK,
		&event.Payload,
		&receivedAt,
		&processedOK,
		&processedErr,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	if event.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, fmt.Errorf("parsing received_at: %w", err)
	}
	if processedOK.Valid {
		v := processedOK.Bool
		event.ProcessedOK = &v
	}
	if processedErr.Valid {
		v := processedErr.String
		event.ProcessingError = &v
	}
	if processedAt.Valid {
		t, err := parseTime(processedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing processed_at: %w", err)
		}
		event.ProcessedAt = &t
	}
	return &event, nil
}

const eventColumns = "id, source, event_type, delivery_id, signature_ok, payload, received_at, processed_ok, processing_error, processed_at"

// GetEvent retrieves a webhook event by id.
func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM webhook_events WHERE id = ?", id)
	event, err := s.scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting webhook event: %w", err)
	}
	return event, nil
}

// ListEvents returns events matching the filter, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]*WebhookEvent, error) {
	query := "SELECT " + eventColumns + " FROM webhook_events"
	var (
		conds []string
		args  []any
	)
	if filter.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing webhook events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// MarkEventProcessed records the processing outcome for an event.
func (s *SQLiteStore) MarkEventProcessed(ctx context.Context, id string, ok bool, procErr string) error {
	var errVal any
	if !ok && procErr != "" {
		errVal = procErr
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE webhook_events SET processed_ok = ?, processing_error = ?, processed_at = ? WHERE id = ?",
		ok, errVal, formatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("marking event processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUnprocessedEvents returns events never marked processed, oldest first.
func (s *SQLiteStore) ListUnprocessedEvents(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM webhook_events WHERE processed_ok IS NULL ORDER BY received_at ASC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		event, err := s.scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// --- Notifications ---

// InsertNotification persists a notification row.
func (s *SQLiteStore) InsertNotification(ctx context.Context, n *Notification) error {
	metadata, err := marshalJSONMap(n.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, event_type, message, metadata_json, priority, profile, dedupe_key, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID,
		n.UserID,
		n.EventType,
		n.Message,
		metadata,
		n.Priority,
		n.Profile,
		n.DedupeKey,
		formatTime(n.CreatedAt),
		formatTimePtr(n.ReadAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

const notificationColumns = "id, user_id, event_type, message, metadata_json, priority, profile, dedupe_key, created_at, read_at"

func (s *SQLiteStore) scanNotification(row interface {
	Scan(dest ...any) error
}) (*Notification, error) {
	var (
		n         Notification
		metadata  sql.NullString
		createdAt string
		readAt    sql.NullString
	)
	err := row.Scan(&n.ID, &n.UserID, &n.EventType, &n.Message, &metadata, &n.Priority, &n.Profile, &n.DedupeKey, &createdAt, &readAt)
	if err != nil {
		return nil, err
	}
	if metadata.Valid {
		if n.Metadata, err = unmarshalJSONMap[any](&metadata.String); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if readAt.Valid {
		if n.ReadAt, err = parseTimePtr(&readAt.String); err != nil {
			return nil, fmt.Errorf("parsing read_at: %w", err)
		}
	}
	return &n, nil
}

// GetNotification retrieves one notification scoped to the user.
func (s *SQLiteStore) GetNotification(ctx context.Context, userID, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE id = ? AND user_id = ?", id, userID)
	n, err := s.scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	return n, nil
}

// ListNotifications returns a user's notifications newest-first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := "SELECT " + notificationColumns + " FROM notifications WHERE user_id = ?"
	args := []any{userID}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, formatTime(since))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := s.scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// LatestByDedupeKey returns the newest notification for (user, dedupe key).
func (s *SQLiteStore) LatestByDedupeKey(ctx context.Context, userID, dedupeKey string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+notificationColumns+" FROM notifications WHERE user_id = ? AND dedupe_key = ? ORDER BY created_at DESC LIMIT 1",
		userID, dedupeKey)
	n, err := s.scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification by dedupe key: %w", err)
	}
	return n, nil
}

// MarkNotificationRead sets read_at, scoped to the user.
func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read_at = ? WHERE id = ? AND user_id = ?",
		formatTime(at), id, userID)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Notification subscriptions ---

// SaveNotificationSubscription upserts on (user_id, platform, endpoint);
// a newer registration replaces the older row.
func (s *SQLiteStore) SaveNotificationSubscription(ctx context.Context, sub *NotificationSubscription) error {
	keys, err := marshalJSONMap(sub.Keys)
	if err != nil {
		return fmt.Errorf("marshaling subscription keys: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_subscriptions (id, user_id, platform, endpoint, keys_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, platform, endpoint) DO UPDATE SET id = excluded.id, keys_json = excluded.keys_json, created_at = excluded.created_at
	`,
		sub.ID, sub.UserID, sub.Platform, sub.Endpoint, keys, formatTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving notification subscription: %w", err)
	}
	return nil
}

// ListNotificationSubscriptions returns a user's push registrations.
func (s *SQLiteStore) ListNotificationSubscriptions(ctx context.Context, userID string) ([]*NotificationSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, platform, endpoint, keys_json, created_at FROM notification_subscriptions WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing notification subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*NotificationSubscription
	for rows.Next() {
		var (
			sub       NotificationSubscription
			keys      sql.NullString
			createdAt string
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Platform, &sub.Endpoint, &keys, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning notification subscription: %w", err)
		}
		if keys.Valid {
			if sub.Keys, err = unmarshalJSONMap[string](&keys.String); err != nil {
				return nil, fmt.Errorf("parsing subscription keys: %w", err)
			}
		}
		if sub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// DeleteNotificationSubscription removes a registration scoped to the user.
func (s *SQLiteStore) DeleteNotificationSubscription(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM notification_subscriptions WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Repo subscriptions ---

// SaveRepoSubscription upserts on (user_id, repo_full_name).
func (s *SQLiteStore) SaveRepoSubscription(ctx context.Context, sub *RepoSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_subscriptions (user_id, repo_full_name, installation_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, repo_full_name) DO UPDATE SET installation_id = excluded.installation_id, created_at = excluded.created_at
	`,
		sub.UserID, sub.RepoFullName, sub.InstallationID, formatTime(sub.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving repo subscription: %w", err)
	}
	return nil
}

func scanRepoSubscriptions(rows *sql.Rows) ([]*RepoSubscription, error) {
	var subs []*RepoSubscription
	for rows.Next() {
		var (
			sub            RepoSubscription
			installationID sql.NullInt64
			createdAt      string
		)
		if err := rows.Scan(&sub.UserID, &sub.RepoFullName, &installationID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning repo subscription: %w", err)
		}
		if installationID.Valid {
			v := installationID.Int64
			sub.InstallationID = &v
		}
		var err error
		if sub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// ListRepoSubscriptions returns a user's repo subscriptions.
func (s *SQLiteStore) ListRepoSubscriptions(ctx context.Context, userID string) ([]*RepoSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, repo_full_name, installation_id, created_at FROM repo_subscriptions WHERE user_id = ? ORDER BY repo_full_name",
		userID)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscriptions: %w", err)
	}
	defer rows.Close()
	return scanRepoSubscriptions(rows)
}

// ListRepoSubscribers returns every subscription for a repository.
func (s *SQLiteStore) ListRepoSubscribers(ctx context.Context, repoFullName string) ([]*RepoSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, repo_full_name, installation_id, created_at FROM repo_subscriptions WHERE repo_full_name = ?",
		repoFullName)
	if err != nil {
		return nil, fmt.Errorf("listing repo subscribers: %w", err)
	}
	defer rows.Close()
	return scanRepoSubscriptions(rows)
}

// ListInstallationSubscribers returns subscriptions connected to an
// installation.
func (s *SQLiteStore) ListInstallationSubscribers(ctx context.Context, installationID int64) ([]*RepoSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, repo_full_name, installation_id, created_at FROM repo_subscriptions WHERE installation_id = ?",
		installationID)
	if err != nil {
		return nil, fmt.Errorf("listing installation subscribers: %w", err)
	}
	defer rows.Close()
	return scanRepoSubscriptions(rows)
}

// DeleteRepoSubscription removes a repo subscription.
func (s *SQLiteStore) DeleteRepoSubscription(ctx context.Context, userID, repoFullName string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM repo_subscriptions WHERE user_id = ? AND repo_full_name = ?", userID, repoFullName)
	if err != nil {
		return fmt.Errorf("deleting repo subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Agent tasks ---

// InsertTask persists a new agent task.
func (s *SQLiteStore) InsertTask(ctx context.Context, task *AgentTask) error {
	trace, err := marshalJSONMap(task.Trace)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_tasks (id, user_id, provider, instruction, state, trace_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.UserID, task.Provider, task.Instruction, string(task.State), trace,
		formatTime(task.CreatedAt), formatTime(task.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting agent task: %w", err)
	}
	return nil
}

const taskColumns = "id, user_id, provider, instruction, state, trace_json, created_at, updated_at"

func (s *SQLiteStore) scanTask(row interface {
	Scan(dest ...any) error
}) (*AgentTask, error) {
	var (
		task      AgentTask
		state     string
		trace     sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(&task.ID, &task.UserID, &task.Provider, &task.Instruction, &state, &trace, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	task.State = TaskState(state)
	if trace.Valid {
		if task.Trace, err = unmarshalJSONMap[any](&trace.String); err != nil {
			return nil, fmt.Errorf("parsing trace: %w", err)
		}
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &task, nil
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*AgentTask, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM agent_tasks WHERE id = ?", id)
	task, err := s.scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting agent task: %w", err)
	}
	return task, nil
}

// ListTasks returns a user's tasks newest-first, filtered by state when set.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, state TaskState) ([]*AgentTask, error) {
	query := "SELECT " + taskColumns + " FROM agent_tasks WHERE user_id = ?"
	args := []any{userID}
	if state != "" {
		query += " AND state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing agent tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*AgentTask
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ListTasksByState returns tasks in a state across users, oldest first.
func (s *SQLiteStore) ListTasksByState(ctx context.Context, state TaskState, limit int) ([]*AgentTask, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM agent_tasks WHERE state = ? ORDER BY created_at ASC LIMIT ?",
		string(state), limit)
	if err != nil {
		return nil, fmt.Errorf("listing agent tasks by state: %w", err)
	}
	defer rows.Close()

	var tasks []*AgentTask
	for rows.Next() {
		task, err := s.scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask persists state, trace, and updated_at.
func (s *SQLiteStore) UpdateTask(ctx context.Context, task *AgentTask) error {
	trace, err := marshalJSONMap(task.Trace)
	if err != nil {
		return fmt.Errorf("marshaling trace: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE agent_tasks SET state = ?, trace_json = ?, updated_at = ? WHERE id = ?",
		string(task.State), trace, formatTime(task.UpdatedAt), task.ID)
	if err != nil {
		return fmt.Errorf("updating agent task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Repo policies ---

// GetRepoPolicy returns the explicit policy for (user, repo), or ErrNotFound.
func (s *SQLiteStore) GetRepoPolicy(ctx context.Context, userID, repoFullName string) (*RepoPolicy, error) {
	var policy RepoPolicy
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, repo_full_name, allow_write FROM repo_policies WHERE user_id = ? AND repo_full_name = ?",
		userID, repoFullName).Scan(&policy.UserID, &policy.RepoFullName, &policy.AllowWrite)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting repo policy: %w", err)
	}
	return &policy, nil
}

// SaveRepoPolicy upserts a policy row.
func (s *SQLiteStore) SaveRepoPolicy(ctx context.Context, policy *RepoPolicy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repo_policies (user_id, repo_full_name, allow_write)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, repo_full_name) DO UPDATE SET allow_write = excluded.allow_write
	`, policy.UserID, policy.RepoFullName, policy.AllowWrite)
	if err != nil {
		return fmt.Errorf("saving repo policy: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
