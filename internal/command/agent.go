// ABOUTME: Agent handlers: delegate work to an agent and report task progress
// ABOUTME: Delegation proposes, then creates and dispatches the task on confirm

package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/visor-gateway/internal/agenttask"
	"github.com/2389/visor-gateway/internal/intent"
	"github.com/2389/visor-gateway/internal/store"
)

// DelegateHandler implements agent.delegate.
type DelegateHandler struct {
	tasks           *agenttask.Service
	defaultProvider string
}

// NewDelegateHandler creates the agent.delegate handler.
func NewDelegateHandler(tasks *agenttask.Service, defaultProvider string) *DelegateHandler {
	if defaultProvider == "" {
		defaultProvider = "mock"
	}
	return &DelegateHandler{tasks: tasks, defaultProvider: defaultProvider}
}

// Name returns "agent.delegate".
func (h *DelegateHandler) Name() string { return "agent.delegate" }

// SideEffect reports true.
func (h *DelegateHandler) SideEffect() bool { return true }

// Handle proposes the delegation.
func (h *DelegateHandler) Handle(ctx context.Context, req *Request) Result {
	instruction, ok := intent.EntityString(req.Entities, "instruction")
	if !ok {
		return Errorf(KindValidation, "What should the agent do?")
	}
	return Propose(
		fmt.Sprintf("delegate to agent: %s", instruction),
		map[string]any{"instruction": instruction, "provider": h.defaultProvider},
	)
}

// Execute creates and dispatches the task.
func (h *DelegateHandler) Execute(ctx context.Context, req *Request) Result {
	instruction, ok := intent.EntityString(req.Entities, "instruction")
	if !ok {
		return Errorf(KindValidation, "What should the agent do?")
	}
	provider, ok := intent.EntityString(req.Entities, "provider")
	if !ok {
		provider = h.defaultProvider
	}

	task, err := h.tasks.Create(ctx, req.UserID, provider, instruction)
	if err != nil {
		return Errorf(KindInternal, "I couldn't create the agent task.")
	}

	dispatched, err := h.tasks.Dispatch(ctx, task)
	if err != nil {
		return Errorf(KindUpstream, "Delegation failed: the dispatch provider rejected the task.")
	}

	card := Card{
		Type:     "agent_task",
		Title:    "Agent task",
		Subtitle: instruction,
		Lines:    []string{"state " + string(dispatched.State), "id " + dispatched.ID},
	}
	return Executed("Delegated. I'll notify you when it's done.", card)
}

// ProgressHandler implements agent.progress.
type ProgressHandler struct {
	tasks *agenttask.Service
}

// NewProgressHandler creates the agent.progress handler.
func NewProgressHandler(tasks *agenttask.Service) *ProgressHandler {
	return &ProgressHandler{tasks: tasks}
}

// Name returns "agent.progress".
func (h *ProgressHandler) Name() string { return "agent.progress" }

// SideEffect reports false.
func (h *ProgressHandler) SideEffect() bool { return false }

// Execute mirrors Handle.
func (h *ProgressHandler) Execute(ctx context.Context, req *Request) Result {
	return h.Handle(ctx, req)
}

// Handle reports the state of the referenced (or latest) task.
func (h *ProgressHandler) Handle(ctx context.Context, req *Request) Result {
	var (
		task *store.AgentTask
		err  error
	)
	if taskID, ok := intent.EntityString(req.Entities, "task_id"); ok {
		task, err = h.tasks.Get(ctx, req.UserID, taskID)
	} else {
		task, err = h.tasks.Latest(ctx, req.UserID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return Errorf(KindNotFound, "I don't see any agent tasks for you.")
	}
	if err != nil {
		return Errorf(KindInternal, "I couldn't look up the task.")
	}

	var spoken string
	switch task.State {
	case store.TaskStateCreated:
		spoken = fmt.Sprintf("The agent hasn't started on %q yet.", task.Instruction)
	case store.TaskStateRunning:
		spoken = fmt.Sprintf("The agent is still working on %q.", task.Instruction)
	case store.TaskStateCompleted:
		spoken = fmt.Sprintf("Done. The agent finished %q.", task.Instruction)
		if _, ok := task.Trace["pr_url"].(string); ok {
			spoken += " There's a pull request ready."
		}
	case store.TaskStateFailed:
		spoken = fmt.Sprintf("The agent failed on %q.", task.Instruction)
	case store.TaskStateCancelled:
		spoken = fmt.Sprintf("The task %q was cancelled.", task.Instruction)
	}

	card := Card{
		Type:     "agent_task",
		Title:    "Agent task",
		Subtitle: task.Instruction,
		Lines:    []string{"state " + string(task.State), "id " + task.ID},
	}
	return Final(spoken, card)
}
