// ABOUTME: Dispatch providers: mock (completes immediately) and github_issue_dispatch
// ABOUTME: Issue dispatch embeds a metadata comment so results correlate back

package agenttask

import (
	"context"
	"fmt"

	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/store"
)

// MockProvider completes tasks synchronously; used in tests and dev mode.
type MockProvider struct{}

// Name returns "mock".
func (MockProvider) Name() string { return "mock" }

// Dispatch marks the task done immediately.
func (MockProvider) Dispatch(ctx context.Context, task *store.AgentTask) (map[string]any, bool, error) {
	return map[string]any{"dispatched": "mock"}, true, nil
}

// MockRunningProvider leaves tasks running so tests can exercise
// correlation.
type MockRunningProvider struct{}

// Name returns "mock_running".
func (MockRunningProvider) Name() string { return "mock_running" }

// Dispatch leaves the task in flight.
func (MockRunningProvider) Dispatch(ctx context.Context, task *store.AgentTask) (map[string]any, bool, error) {
	return map[string]any{"dispatched": "mock_running"}, false, nil
}

// IssueDispatchProvider delegates by opening an issue in the configured
// dispatch repo. The issue body carries the task metadata comment that an
// external agent echoes into its result PR.
type IssueDispatchProvider struct {
	host codehost.Client
	repo string
}

// NewIssueDispatchProvider creates the github_issue_dispatch provider.
func NewIssueDispatchProvider(host codehost.Client, dispatchRepo string) *IssueDispatchProvider {
	return &IssueDispatchProvider{host: host, repo: dispatchRepo}
}

// Name returns "github_issue_dispatch".
func (p *IssueDispatchProvider) Name() string { return "github_issue_dispatch" }

// Dispatch opens the dispatch issue and records its reference in the trace.
func (p *IssueDispatchProvider) Dispatch(ctx context.Context, task *store.AgentTask) (map[string]any, bool, error) {
	if p.repo == "" {
		return nil, false, fmt.Errorf("no dispatch repo configured")
	}

	title := fmt.Sprintf("Agent task: %s", truncate(task.Instruction, 80))
	body := fmt.Sprintf("%s\n\n<!-- agent_task_metadata {\"task_id\":%q} -->\n", task.Instruction, task.ID)

	issue, err := p.host.CreateIssue(ctx, p.repo, title, body)
	if err != nil {
		return nil, false, fmt.Errorf("creating dispatch issue: %w", err)
	}

	return map[string]any{
		"dispatched":   "github_issue_dispatch",
		"issue_repo":   issue.Repo,
		"issue_number": issue.Number,
		"issue_url":    issue.URL,
	}, false, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
