// ABOUTME: Live code-host client for GitHub using the google/go-github SDK
// ABOUTME: Maps SDK errors onto the closed codehost error surface

package codehost

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/go-github/v69/github"
)

// rateLimitWarningThreshold triggers a log warning when the remaining
// rate limit drops below this value.
const rateLimitWarningThreshold = 100

// GitHub implements Client for GitHub.com using the google/go-github SDK.
type GitHub struct {
	client *github.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub client authenticated with token.
func NewGitHub(httpClient *http.Client, token string, logger *slog.Logger) *GitHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitHub{
		client: github.NewClient(httpClient).WithAuthToken(token),
		logger: logger.With("component", "codehost"),
	}
}

// splitRepo splits "owner/repo" into its components.
func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo format %q, expected owner/repo", repo)
	}
	return parts[0], parts[1], nil
}

// checkRate logs a warning when the API rate limit is getting low.
func (g *GitHub) checkRate(resp *github.Response) {
	if resp == nil {
		return
	}
	remaining := resp.Rate.Remaining
	if remaining > 0 && remaining < rateLimitWarningThreshold {
		g.logger.Warn("github rate limit low",
			"remaining", remaining,
			"limit", resp.Rate.Limit,
			"reset", resp.Rate.Reset.Format(time.RFC3339),
		)
	}
}

// mapError converts SDK errors onto the codehost error surface.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if rl, ok := err.(*github.RateLimitError); ok {
		return &RateLimitError{ResetAt: rl.Rate.Reset.Time}
	}
	if er, ok := err.(*github.ErrorResponse); ok && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized, http.StatusForbidden:
			return ErrAuth
		}
	}
	return err
}

// repoFromIssueURL extracts "owner/repo" from an API repository URL.
func repoFromIssueURL(url string) string {
	const marker = "/repos/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	return url[idx+len(marker):]
}

// ListUserPRs unions review-requested and assigned open PRs, most recently
// updated first.
func (g *GitHub) ListUserPRs(ctx context.Context, user string) ([]PullRequest, error) {
	queries := []struct {
		q        string
		reviewer bool
	}{
		{fmt.Sprintf("is:open is:pr review-requested:%s", user), true},
		{fmt.Sprintf("is:open is:pr assignee:%s", user), false},
	}

	seen := make(map[string]int)
	var prs []PullRequest
	for _, query := range queries {
		result, resp, err := g.client.Search.Issues(ctx, query.q, &github.SearchOptions{
			Sort:        "updated",
			Order:       "desc",
			ListOptions: github.ListOptions{PerPage: 50},
		})
		if err != nil {
			return nil, fmt.Errorf("search pull requests: %w", mapError(err))
		}
		g.checkRate(resp)

		for _, issue := range result.Issues {
			repo := repoFromIssueURL(issue.GetRepositoryURL())
			key := fmt.Sprintf("%s#%d", repo, issue.GetNumber())
			if idx, ok := seen[key]; ok {
				if query.reviewer {
					prs[idx].RoleReviewer = true
				} else {
					prs[idx].RoleAssignee = true
				}
				continue
			}

			pr := PullRequest{
				Repo:      repo,
				Number:    issue.GetNumber(),
				Title:     issue.GetTitle(),
				Author:    issue.GetUser().GetLogin(),
				State:     issue.GetState(),
				UpdatedAt: issue.GetUpdatedAt().Time,
				URL:       issue.GetHTMLURL(),
				Body:      issue.GetBody(),
			}
			for _, label := range issue.Labels {
				pr.Labels = append(pr.Labels, label.GetName())
			}
			if query.reviewer {
				pr.RoleReviewer = true
			} else {
				pr.RoleAssignee = true
			}
			seen[key] = len(prs)
			prs = append(prs, pr)
		}
	}
	sort.SliceStable(prs, func(i, j int) bool {
		return prs[i].UpdatedAt.After(prs[j].UpdatedAt)
	})
	return prs, nil
}

// GetPR retrieves a single pull request.
func (g *GitHub) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghPR, resp, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("get pull request #%d: %w", number, mapError(err))
	}
	g.checkRate(resp)

	pr := &PullRequest{
		Repo:      repo,
		Number:    number,
		Title:     ghPR.GetTitle(),
		Author:    ghPR.GetUser().GetLogin(),
		State:     ghPR.GetState(),
		UpdatedAt: ghPR.GetUpdatedAt().Time,
		URL:       ghPR.GetHTMLURL(),
		Body:      ghPR.GetBody(),
		HeadSHA:   ghPR.GetHead().GetSHA(),
	}
	if ghPR.GetMerged() {
		pr.State = "merged"
	}
	for _, label := range ghPR.Labels {
		pr.Labels = append(pr.Labels, label.GetName())
	}
	return pr, nil
}

// GetChecks lists check runs for the PR's head commit.
func (g *GitHub) GetChecks(ctx context.Context, repo string, number int) ([]Check, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	pr, err := g.GetPR(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	results, resp, err := g.client.Checks.ListCheckRunsForRef(ctx, owner, name, pr.HeadSHA, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	})
	if err != nil {
		return nil, fmt.Errorf("list check runs for #%d: %w", number, mapError(err))
	}
	g.checkRate(resp)

	var checks []Check
	for _, run := range results.CheckRuns {
		checks = append(checks, Check{
			Name:       run.GetName(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
		})
	}
	return checks, nil
}

// GetReviews lists submitted reviews on the PR.
func (g *GitHub) GetReviews(ctx context.Context, repo string, number int) ([]Review, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghReviews, resp, err := g.client.PullRequests.ListReviews(ctx, owner, name, number, &github.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("list reviews for #%d: %w", number, mapError(err))
	}
	g.checkRate(resp)

	var reviews []Review
	for _, r := range ghReviews {
		reviews = append(reviews, Review{
			Author: r.GetUser().GetLogin(),
			State:  r.GetState(),
		})
	}
	return reviews, nil
}

// RequestReview adds a requested reviewer to the PR.
func (g *GitHub) RequestReview(ctx context.Context, repo string, number int, reviewer string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	_, resp, err := g.client.PullRequests.RequestReviewers(ctx, owner, name, number, github.ReviewersRequest{
		Reviewers: []string{reviewer},
	})
	if err != nil {
		return fmt.Errorf("request review on #%d: %w", number, mapError(err))
	}
	g.checkRate(resp)
	return nil
}

// Merge merges the PR with the repository's default merge method.
func (g *GitHub) Merge(ctx context.Context, repo string, number int) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}

	result, resp, err := g.client.PullRequests.Merge(ctx, owner, name, number, "", &github.PullRequestOptions{})
	if err != nil {
		return fmt.Errorf("merge #%d: %w", number, mapError(err))
	}
	g.checkRate(resp)
	if !result.GetMerged() {
		return fmt.Errorf("merge #%d rejected: %s", number, result.GetMessage())
	}
	return nil
}

// CreateIssue opens a new issue, used by agent dispatch.
func (g *GitHub) CreateIssue(ctx context.Context, repo, title, body string) (*Issue, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	ghIssue, resp, err := g.client.Issues.Create(ctx, owner, name, &github.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", mapError(err))
	}
	g.checkRate(resp)

	return &Issue{
		Repo:   repo,
		Number: ghIssue.GetNumber(),
		Title:  ghIssue.GetTitle(),
		URL:    ghIssue.GetHTMLURL(),
	}, nil
}
