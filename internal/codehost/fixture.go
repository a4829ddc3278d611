// ABOUTME: In-memory fixture code host for tests and CODEHOST_MODE=fixture
// ABOUTME: Seeded with PRs, checks, and reviews; records write calls for assertions

package codehost

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fixture is an in-memory Client. It is safe for concurrent use and
// records write operations so tests can assert on them.
type Fixture struct {
	mu        sync.Mutex
	prs       map[string]*PullRequest // keyed by "repo#number"
	checks    map[string][]Check
	reviews   map[string][]Review
	issueSeq  int
	merged    []string
	reviewers map[string][]string // requested reviewers per PR key
	issues    []Issue
}

// NewFixture creates an empty fixture host.
func NewFixture() *Fixture {
	return &Fixture{
		prs:       make(map[string]*PullRequest),
		checks:    make(map[string][]Check),
		reviews:   make(map[string][]Review),
		reviewers: make(map[string][]string),
	}
}

// NewSeededFixture creates a fixture with a small default dataset: one
// urgent PR and two normal ones, mirroring the dev environment.
func NewSeededFixture() *Fixture {
	f := NewFixture()
	now := time.Now().UTC()
	f.AddPR(&PullRequest{
		Repo: "org/x", Number: 101, Title: "Fix token refresh race", Author: "alice",
		State: "open", Labels: []string{"urgent"}, RoleReviewer: true,
		UpdatedAt: now.Add(-2 * time.Hour), URL: "https://github.example/org/x/pull/101",
	})
	f.AddPR(&PullRequest{
		Repo: "org/x", Number: 102, Title: "Bump linter version", Author: "bob",
		State: "open", RoleReviewer: true,
		UpdatedAt: now.Add(-1 * time.Hour), URL: "https://github.example/org/x/pull/102",
	})
	f.AddPR(&PullRequest{
		Repo: "org/x", Number: 103, Title: "Add retry metrics", Author: "carol",
		State: "open", RoleAssignee: true,
		UpdatedAt: now.Add(-30 * time.Minute), URL: "https://github.example/org/x/pull/103",
	})
	f.SetChecks("org/x", 101,
		Check{Name: "build", Status: "completed", Conclusion: "success"},
		Check{Name: "test", Status: "completed", Conclusion: "success"},
	)
	return f
}

func prKey(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// AddPR seeds a pull request.
func (f *Fixture) AddPR(pr *PullRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *pr
	f.prs[prKey(pr.Repo, pr.Number)] = &copied
}

// SetChecks seeds check runs for a PR.
func (f *Fixture) SetChecks(repo string, number int, checks ...Check) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks[prKey(repo, number)] = checks
}

// SetReviews seeds reviews for a PR.
func (f *Fixture) SetReviews(repo string, number int, reviews ...Review) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviews[prKey(repo, number)] = reviews
}

// ListUserPRs returns open PRs where the user holds a role, most recently
// updated first.
func (f *Fixture) ListUserPRs(ctx context.Context, user string) ([]PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var prs []PullRequest
	for _, pr := range f.prs {
		if pr.State != "open" {
			continue
		}
		if pr.RoleReviewer || pr.RoleAssignee {
			prs = append(prs, *pr)
		}
	}
	sort.Slice(prs, func(i, j int) bool {
		return prs[i].UpdatedAt.After(prs[j].UpdatedAt)
	})
	return prs, nil
}

// GetPR returns a seeded PR or ErrNotFound.
func (f *Fixture) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	pr, ok := f.prs[prKey(repo, number)]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *pr
	return &copied, nil
}

// GetChecks returns seeded checks; a PR with no seeded checks has none.
func (f *Fixture) GetChecks(ctx context.Context, repo string, number int) ([]Check, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prs[prKey(repo, number)]; !ok {
		return nil, ErrNotFound
	}
	return append([]Check(nil), f.checks[prKey(repo, number)]...), nil
}

// GetReviews returns seeded reviews.
func (f *Fixture) GetReviews(ctx context.Context, repo string, number int) ([]Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.prs[prKey(repo, number)]; !ok {
		return nil, ErrNotFound
	}
	return append([]Review(nil), f.reviews[prKey(repo, number)]...), nil
}

// RequestReview records the requested reviewer.
func (f *Fixture) RequestReview(ctx context.Context, repo string, number int, reviewer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := prKey(repo, number)
	if _, ok := f.prs[key]; !ok {
		return ErrNotFound
	}
	f.reviewers[key] = append(f.reviewers[key], reviewer)
	return nil
}

// RequestedReviewers returns recorded review requests for assertions.
func (f *Fixture) RequestedReviewers(repo string, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reviewers[prKey(repo, number)]...)
}

// Merge marks the PR merged.
func (f *Fixture) Merge(ctx context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := prKey(repo, number)
	pr, ok := f.prs[key]
	if !ok {
		return ErrNotFound
	}
	pr.State = "merged"
	f.merged = append(f.merged, key)
	return nil
}

// MergedPRs returns the keys of merged PRs for assertions.
func (f *Fixture) MergedPRs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.merged...)
}

// CreateIssue records a new issue with a sequential number.
func (f *Fixture) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.issueSeq++
	issue := Issue{
		Repo:   repo,
		Number: f.issueSeq,
		Title:  title,
		URL:    fmt.Sprintf("https://github.example/%s/issues/%d", repo, f.issueSeq),
	}
	f.issues = append(f.issues, issue)
	return &issue, nil
}

// Issues returns created issues for assertions.
func (f *Fixture) Issues() []Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Issue(nil), f.issues...)
}
