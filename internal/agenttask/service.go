// ABOUTME: Agent-task lifecycle: create, dispatch by reference, state transitions
// ABOUTME: Correlates external results back to tasks and notifies on completion

package agenttask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/store"
)

var (
	// ErrInvalidTransition is returned for illegal state changes.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrUnknownProvider is returned for unregistered dispatch providers.
	ErrUnknownProvider = errors.New("unknown dispatch provider")
)

// metadataComment is embedded in dispatched issues and recognized in PR
// bodies to correlate results back to tasks.
var metadataComment = regexp.MustCompile(`<!--\s*agent_task_metadata\s*(\{.*?\})\s*-->`)

// fixesRef matches "Fixes owner/repo#N" style references.
var fixesRef = regexp.MustCompile(`(?i)(?:fixes|closes|resolves)\s+([\w.-]+/[\w.-]+)#(\d+)`)

// validTransitions encodes the legal lifecycle moves. Any state may also
// move to failed on error, except terminal states.
var validTransitions = map[store.TaskState][]store.TaskState{
	store.TaskStateCreated: {store.TaskStateRunning, store.TaskStateCancelled, store.TaskStateFailed, store.TaskStateCompleted},
	store.TaskStateRunning: {store.TaskStateCompleted, store.TaskStateFailed},
}

// Provider dispatches a task to an external executor. Completed reports
// whether the provider finished the work synchronously.
type Provider interface {
	Name() string
	Dispatch(ctx context.Context, task *store.AgentTask) (trace map[string]any, completed bool, err error)
}

// ProfileSource supplies a user's active profile for completion
// notifications.
type ProfileSource interface {
	Get(ctx context.Context, userID string) string
}

// Service owns the agent-task lifecycle.
type Service struct {
	store        store.Store
	notify       *notify.Service
	profiles     ProfileSource
	providers    map[string]Provider
	dispatchRepo string
	logger       *slog.Logger
}

// NewService creates the agent-task service.
func NewService(st store.Store, notifier *notify.Service, profiles ProfileSource, dispatchRepo string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        st,
		notify:       notifier,
		profiles:     profiles,
		providers:    make(map[string]Provider),
		dispatchRepo: dispatchRepo,
		logger:       logger.With("component", "agenttask"),
	}
}

// RegisterProvider binds a provider name.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Name()] = p
}

// Create persists a new task in state created.
func (s *Service) Create(ctx context.Context, userID, provider, instruction string) (*store.AgentTask, error) {
	if _, ok := s.providers[provider]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	now := time.Now().UTC()
	task := &store.AgentTask{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    provider,
		Instruction: instruction,
		State:       store.TaskStateCreated,
		Trace:       map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	return task, nil
}

// Dispatch hands the task to its provider. Provider failures transition
// the task to failed with the error recorded in the trace.
func (s *Service) Dispatch(ctx context.Context, task *store.AgentTask) (*store.AgentTask, error) {
	provider, ok := s.providers[task.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, task.Provider)
	}

	trace, completed, err := provider.Dispatch(ctx, task)
	if err != nil {
		s.logger.Error("dispatch failed", "task_id", task.ID, "provider", task.Provider, "error", err)
		failed, uerr := s.UpdateState(ctx, task.ID, store.TaskStateFailed, map[string]any{"error": err.Error()})
		if uerr != nil {
			return nil, fmt.Errorf("recording dispatch failure: %w", uerr)
		}
		return failed, fmt.Errorf("dispatching task: %w", err)
	}

	next := store.TaskStateRunning
	if completed {
		next = store.TaskStateCompleted
	}
	return s.UpdateState(ctx, task.ID, next, trace)
}

// UpdateState validates and applies a state transition, merging the trace
// delta monotonically.
func (s *Service) UpdateState(ctx context.Context, taskID string, next store.TaskState, traceDelta map[string]any) (*store.AgentTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if !transitionAllowed(task.State, next) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.State, next)
	}

	task.State = next
	if task.Trace == nil {
		task.Trace = map[string]any{}
	}
	for k, v := range traceDelta {
		task.Trace[k] = v
	}
	task.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	return task, nil
}

func transitionAllowed(from, to store.TaskState) bool {
	if from == to {
		return false
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Get returns a task scoped to the user.
func (s *Service) Get(ctx context.Context, userID, taskID string) (*store.AgentTask, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.UserID != userID {
		return nil, store.ErrNotFound
	}
	return task, nil
}

// Latest returns the user's most recent task, or ErrNotFound.
func (s *Service) Latest(ctx context.Context, userID string) (*store.AgentTask, error) {
	tasks, err := s.store.ListTasks(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, store.ErrNotFound
	}
	return tasks[0], nil
}

// CorrelationInput is what the webhook pipeline extracts from a
// pull_request event for correlation.
type CorrelationInput struct {
	Repo     string
	PRNumber int
	PRBody   string
	PRURL    string
}

// TryCorrelate matches an incoming PR back to the task that produced it:
// first by the metadata comment in the PR body, then by a "Fixes
// dispatch_repo#N" reference resolved against dispatched issue numbers.
// Correlation failures are logged and ignored.
func (s *Service) TryCorrelate(ctx context.Context, in CorrelationInput) {
	taskID := s.extractTaskID(ctx, in)
	if taskID == "" {
		return
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		s.logger.Debug("correlation: task not found", "task_id", taskID)
		return
	}
	if task.State != store.TaskStateRunning {
		s.logger.Debug("correlation: task not running", "task_id", taskID, "state", task.State)
		return
	}

	updated, err := s.UpdateState(ctx, taskID, store.TaskStateCompleted, map[string]any{"pr_url": in.PRURL})
	if err != nil {
		s.logger.Warn("correlation: transition failed", "task_id", taskID, "error", err)
		return
	}

	s.logger.Info("agent task completed via correlation", "task_id", taskID, "pr_url", in.PRURL)

	if s.notify != nil {
		profileName := ""
		if s.profiles != nil {
			profileName = s.profiles.Get(ctx, updated.UserID)
		}
		_, err := s.notify.Create(ctx, notify.CreateInput{
			UserID:    updated.UserID,
			EventType: "agent.task_completed",
			Message:   fmt.Sprintf("Agent finished: %s", updated.Instruction),
			Metadata: map[string]any{
				"task_id": updated.ID,
				"repo":    in.Repo,
				"pr_url":  in.PRURL,
			},
			Profile: profileName,
		})
		if err != nil {
			s.logger.Warn("correlation: notification failed", "task_id", taskID, "error", err)
		}
	}
}

// extractTaskID finds the task id in the PR body, or resolves a fixes
// reference against running tasks' dispatched issue numbers.
func (s *Service) extractTaskID(ctx context.Context, in CorrelationInput) string {
	if m := metadataComment.FindStringSubmatch(in.PRBody); m != nil {
		var meta struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal([]byte(m[1]), &meta); err == nil && meta.TaskID != "" {
			return meta.TaskID
		}
		s.logger.Debug("correlation: malformed metadata comment", "repo", in.Repo, "pr", in.PRNumber)
	}

	if s.dispatchRepo == "" {
		return ""
	}
	for _, m := range fixesRef.FindAllStringSubmatch(in.PRBody, -1) {
		if m[1] != s.dispatchRepo {
			continue
		}
		issueNumber, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if taskID := s.findTaskByIssue(ctx, issueNumber); taskID != "" {
			return taskID
		}
	}
	return ""
}

// findTaskByIssue scans running tasks for one dispatched as the given
// issue number.
func (s *Service) findTaskByIssue(ctx context.Context, issueNumber int) string {
	tasks, err := s.store.ListTasksByState(ctx, store.TaskStateRunning, 200)
	if err != nil {
		s.logger.Warn("correlation: listing running tasks", "error", err)
		return ""
	}
	for _, task := range tasks {
		if n, ok := task.Trace["issue_number"]; ok {
			switch v := n.(type) {
			case int:
				if v == issueNumber {
					return task.ID
				}
			case float64:
				if int(v) == issueNumber {
					return task.ID
				}
			}
		}
	}
	return ""
}
