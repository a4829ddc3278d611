// ABOUTME: Code-host collaborator contract consumed by handlers and agent dispatch
// ABOUTME: Defines the capability set, shared types, and the closed error surface

package codehost

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned for unknown repos, PRs, or users.
	ErrNotFound = errors.New("not found on code host")

	// ErrAuth is returned when the configured credentials are rejected.
	ErrAuth = errors.New("code host authentication failed")
)

// RateLimitError reports an upstream rate limit with its reset time.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("code host rate limited until %s", e.ResetAt.Format(time.RFC3339))
}

// PullRequest is the handler-facing view of a PR.
type PullRequest struct {
	Repo         string
	Number       int
	Title        string
	Author       string
	State        string // open, closed, merged
	Labels       []string
	RoleReviewer bool // caller is a requested reviewer
	RoleAssignee bool // caller is an assignee
	UpdatedAt    time.Time
	URL          string
	Body         string
	HeadSHA      string
}

// Check is one check run on a PR head.
type Check struct {
	Name       string
	Status     string // queued, in_progress, completed
	Conclusion string // success, failure, neutral, ... (empty until completed)
}

// Passing reports whether the check completed successfully.
func (c Check) Passing() bool {
	return c.Status == "completed" && (c.Conclusion == "success" || c.Conclusion == "neutral" || c.Conclusion == "skipped")
}

// Review is one submitted PR review.
type Review struct {
	Author string
	State  string // APPROVED, CHANGES_REQUESTED, COMMENTED
}

// Issue is the minimal issue view used by agent dispatch.
type Issue struct {
	Repo   string
	Number int
	Title  string
	URL    string
}

// Client is the capability set the command plane needs from a code host.
type Client interface {
	// ListUserPRs returns open PRs where the user is a reviewer or
	// assignee.
	ListUserPRs(ctx context.Context, user string) ([]PullRequest, error)
	GetPR(ctx context.Context, repo string, number int) (*PullRequest, error)
	GetChecks(ctx context.Context, repo string, number int) ([]Check, error)
	GetReviews(ctx context.Context, repo string, number int) ([]Review, error)
	RequestReview(ctx context.Context, repo string, number int, reviewer string) error
	Merge(ctx context.Context, repo string, number int) error
	// CreateIssue opens an issue, used by agent dispatch by reference.
	CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error)
}
