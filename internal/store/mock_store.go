// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	events        map[string]*WebhookEvent // keyed by event ID
	deliveries    map[string]string        // keyed by "source:deliveryID" -> event ID
	notifications map[string]*Notification // keyed by notification ID
	notifSubs     map[string]*NotificationSubscription
	repoSubs      map[string]*RepoSubscription // keyed by "userID:repo"
	tasks         map[string]*AgentTask
	policies      map[string]*RepoPolicy // keyed by "userID:repo"
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		events:        make(map[string]*WebhookEvent),
		deliveries:    make(map[string]string),
		notifications: make(map[string]*Notification),
		notifSubs:     make(map[string]*NotificationSubscription),
		repoSubs:      make(map[string]*RepoSubscription),
		tasks:         make(map[string]*AgentTask),
		policies:      make(map[string]*RepoPolicy),
	}
}

func deliveryKey(source, deliveryID string) string {
	return source + ":" + deliveryID
}

// InsertEvent stores a new webhook event, enforcing delivery uniqueness.
func (m *MockStore) InsertEvent(ctx context.Context, event *WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := deliveryKey(event.Source, event.DeliveryID)
	if _, exists := m.deliveries[key]; exists {
		return ErrDuplicateDelivery
	}

	event.ReceivedAt = time.Now().UTC()
	e := *event
	e.Payload = append([]byte(nil), event.Payload...)
	m.events[e.ID] = &e
	m.deliveries[key] = e.ID
	return nil
}

// GetEvent retrieves an event by ID.
func (m *MockStore) GetEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *e
	return &copied, nil
}

// ListEvents returns events matching the filter, newest first.
func (m *MockStore) ListEvents(ctx context.Context, filter EventFilter) ([]*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*WebhookEvent
	for _, e := range m.events {
		if filter.Source != "" && e.Source != filter.Source {
			continue
		}
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		copied := *e
		events = append(events, &copied)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.After(events[j].ReceivedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// MarkEventProcessed records the processing outcome.
func (m *MockStore) MarkEventProcessed(ctx context.Context, id string, ok bool, procErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.events[id]
	if !exists {
		return ErrNotFound
	}
	e.ProcessedOK = &ok
	if !ok && procErr != "" {
		e.ProcessingError = &procErr
	} else {
		e.ProcessingError = nil
	}
	now := time.Now().UTC()
	e.ProcessedAt = &now
	return nil
}

// ListUnprocessedEvents returns events never marked processed, oldest first.
func (m *MockStore) ListUnprocessedEvents(ctx context.Context, limit int) ([]*WebhookEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*WebhookEvent
	for _, e := range m.events {
		if e.ProcessedOK == nil {
			copied := *e
			events = append(events, &copied)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].ReceivedAt.Before(events[j].ReceivedAt)
	})
	if limit <= 0 {
		limit = 100
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// InsertNotification stores a notification.
func (m *MockStore) InsertNotification(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *n
	m.notifications[copied.ID] = &copied
	return nil
}

// GetNotification retrieves a notification scoped to the user.
func (m *MockStore) GetNotification(ctx context.Context, userID, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *n
	return &copied, nil
}

// ListNotifications returns a user's notifications newest-first.
func (m *MockStore) ListNotifications(ctx context.Context, userID string, since time.Time, limit int) ([]*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var notifications []*Notification
	for _, n := range m.notifications {
		if n.UserID != userID {
			continue
		}
		if !since.IsZero() && n.CreatedAt.Before(since) {
			continue
		}
		copied := *n
		notifications = append(notifications, &copied)
	}
	sort.Slice(notifications, func(i, j int) bool {
		return notifications[i].CreatedAt.After(notifications[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 50
	}
	if len(notifications) > limit {
		notifications = notifications[:limit]
	}
	return notifications, nil
}

// LatestByDedupeKey returns the newest notification for (user, dedupe key).
func (m *MockStore) LatestByDedupeKey(ctx context.Context, userID, dedupeKey string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Notification
	for _, n := range m.notifications {
		if n.UserID != userID || n.DedupeKey != dedupeKey {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			latest = n
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

// MarkNotificationRead sets read_at scoped to the user.
func (m *MockStore) MarkNotificationRead(ctx context.Context, userID, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	t := at.UTC()
	n.ReadAt = &t
	return nil
}

func notifSubKey(userID, platform, endpoint string) string {
	return strings.Join([]string{userID, platform, endpoint}, "\x00")
}

// SaveNotificationSubscription upserts on (user, platform, endpoint).
func (m *MockStore) SaveNotificationSubscription(ctx context.Context, sub *NotificationSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sub
	m.notifSubs[notifSubKey(sub.UserID, sub.Platform, sub.Endpoint)] = &copied
	return nil
}

// ListNotificationSubscriptions returns a user's push registrations.
func (m *MockStore) ListNotificationSubscriptions(ctx context.Context, userID string) ([]*NotificationSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*NotificationSubscription
	for _, sub := range m.notifSubs {
		if sub.UserID == userID {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

// DeleteNotificationSubscription removes a registration by id.
func (m *MockStore) DeleteNotificationSubscription(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, sub := range m.notifSubs {
		if sub.ID == id && sub.UserID == userID {
			delete(m.notifSubs, key)
			return nil
		}
	}
	return ErrNotFound
}

func repoSubKey(userID, repo string) string {
	return userID + "\x00" + repo
}

// SaveRepoSubscription upserts on (user, repo).
func (m *MockStore) SaveRepoSubscription(ctx context.Context, sub *RepoSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *sub
	m.repoSubs[repoSubKey(sub.UserID, sub.RepoFullName)] = &copied
	return nil
}

// ListRepoSubscriptions returns a user's repo subscriptions.
func (m *MockStore) ListRepoSubscriptions(ctx context.Context, userID string) ([]*RepoSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*RepoSubscription
	for _, sub := range m.repoSubs {
		if sub.UserID == userID {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].RepoFullName < subs[j].RepoFullName
	})
	return subs, nil
}

// ListRepoSubscribers returns every subscription for a repository.
func (m *MockStore) ListRepoSubscribers(ctx context.Context, repoFullName string) ([]*RepoSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*RepoSubscription
	for _, sub := range m.repoSubs {
		if sub.RepoFullName == repoFullName {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].UserID < subs[j].UserID
	})
	return subs, nil
}

// ListInstallationSubscribers returns subscriptions connected to an
// installation.
func (m *MockStore) ListInstallationSubscribers(ctx context.Context, installationID int64) ([]*RepoSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []*RepoSubscription
	for _, sub := range m.repoSubs {
		if sub.InstallationID != nil && *sub.InstallationID == installationID {
			copied := *sub
			subs = append(subs, &copied)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].UserID < subs[j].UserID
	})
	return subs, nil
}

// DeleteRepoSubscription removes a repo subscription.
func (m *MockStore) DeleteRepoSubscription(ctx context.Context, userID, repoFullName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := repoSubKey(userID, repoFullName)
	if _, ok := m.repoSubs[key]; !ok {
		return ErrNotFound
	}
	delete(m.repoSubs, key)
	return nil
}

// InsertTask stores a new agent task.
func (m *MockStore) InsertTask(ctx context.Context, task *AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *task
	m.tasks[copied.ID] = &copied
	return nil
}

// GetTask retrieves a task by id.
func (m *MockStore) GetTask(ctx context.Context, id string) (*AgentTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	task, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *task
	return &copied, nil
}

// ListTasks returns a user's tasks newest-first.
func (m *MockStore) ListTasks(ctx context.Context, userID string, state TaskState) ([]*AgentTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []*AgentTask
	for _, task := range m.tasks {
		if task.UserID != userID {
			continue
		}
		if state != "" && task.State != state {
			continue
		}
		copied := *task
		tasks = append(tasks, &copied)
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// ListTasksByState returns tasks in a state across users, oldest first.
func (m *MockStore) ListTasksByState(ctx context.Context, state TaskState, limit int) ([]*AgentTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tasks []*AgentTask
	for _, task := range m.tasks {
		if task.State == state {
			copied := *task
			tasks = append(tasks, &copied)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 100
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	return tasks, nil
}

// UpdateTask persists state, trace, and updated_at.
func (m *MockStore) UpdateTask(ctx context.Context, task *AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[task.ID]; !ok {
		return ErrNotFound
	}
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

// GetRepoPolicy returns the explicit policy for (user, repo).
func (m *MockStore) GetRepoPolicy(ctx context.Context, userID, repoFullName string) (*RepoPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	policy, ok := m.policies[repoSubKey(userID, repoFullName)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *policy
	return &copied, nil
}

// SaveRepoPolicy upserts a policy row.
func (m *MockStore) SaveRepoPolicy(ctx context.Context, policy *RepoPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *policy
	m.policies[repoSubKey(policy.UserID, policy.RepoFullName)] = &copied
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
