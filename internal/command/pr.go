// ABOUTME: PR handlers: summarize, request review, merge, and checks status
// ABOUTME: Write handlers gate on repo policy and go through the pending protocol

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/intent"
	"github.com/2389/visor-gateway/internal/session"
	"github.com/2389/visor-gateway/internal/store"
)

// SummarizeHandler composes a spoken PR summary with checks and reviews.
type SummarizeHandler struct {
	host     codehost.Client
	sessions *session.Store
}

// NewSummarizeHandler creates the pr.summarize handler.
func NewSummarizeHandler(host codehost.Client, sessions *session.Store) *SummarizeHandler {
	return &SummarizeHandler{host: host, sessions: sessions}
}

// Name returns "pr.summarize".
func (h *SummarizeHandler) Name() string { return "pr.summarize" }

// SideEffect reports false.
func (h *SummarizeHandler) SideEffect() bool { return false }

// Execute mirrors Handle.
func (h *SummarizeHandler) Execute(ctx context.Context, req *Request) Result {
	return h.Handle(ctx, req)
}

// Handle fetches PR details, checks, and reviews and sets the session
// focus. Privacy mode: only titles and counts are spoken, never code.
func (h *SummarizeHandler) Handle(ctx context.Context, req *Request) Result {
	repo, number, errResult, ok := resolvePR(ctx, h.host, req)
	if !ok {
		return errResult
	}

	readCtx, cancel := context.WithTimeout(ctx, hostReadTimeout)
	defer cancel()

	pr, err := h.host.GetPR(readCtx, repo, number)
	if err != nil {
		return mapHostError(err)
	}
	checks, err := h.host.GetChecks(readCtx, repo, number)
	if err != nil {
		return mapHostError(err)
	}
	reviews, err := h.host.GetReviews(readCtx, repo, number)
	if err != nil {
		return mapHostError(err)
	}

	passing := 0
	for _, c := range checks {
		if c.Passing() {
			passing++
		}
	}
	approved, changes, comments := 0, 0, 0
	for _, r := range reviews {
		switch r.State {
		case "APPROVED":
			approved++
		case "CHANGES_REQUESTED":
			changes++
		default:
			comments++
		}
	}

	var spoken strings.Builder
	fmt.Fprintf(&spoken, "PR %d by %s: %s.", pr.Number, pr.Author, pr.Title)
	if len(checks) > 0 {
		fmt.Fprintf(&spoken, " Checks: %d of %d passing.", passing, len(checks))
	} else {
		spoken.WriteString(" No checks reported.")
	}
	fmt.Fprintf(&spoken, " Reviews: %d approved, %d requesting changes, %d comments.", approved, changes, comments)

	_ = h.sessions.SetRepoPR(ctx, req.UserID, req.SessionID, repo, number)

	card := Card{
		Type:     "pr",
		Title:    fmt.Sprintf("PR #%d", pr.Number),
		Subtitle: pr.Title,
		Lines: []string{
			repo,
			"by " + pr.Author,
			fmt.Sprintf("checks %d/%d", passing, len(checks)),
			fmt.Sprintf("reviews +%d/-%d", approved, changes),
		},
		DeepLink: pr.URL,
	}
	return Final(spoken.String(), card)
}

// RequestReviewHandler proposes and performs review requests.
type RequestReviewHandler struct {
	host     codehost.Client
	policies store.RepoPolicyStore
}

// NewRequestReviewHandler creates the pr.request_review handler.
func NewRequestReviewHandler(host codehost.Client, policies store.RepoPolicyStore) *RequestReviewHandler {
	return &RequestReviewHandler{host: host, policies: policies}
}

// Name returns "pr.request_review".
func (h *RequestReviewHandler) Name() string { return "pr.request_review" }

// SideEffect reports true.
func (h *RequestReviewHandler) SideEffect() bool { return true }

// Handle gates on policy and proposes the review request.
func (h *RequestReviewHandler) Handle(ctx context.Context, req *Request) Result {
	reviewer, ok := intent.EntityString(req.Entities, "reviewer")
	if !ok {
		return Errorf(KindValidation, "Who should review it?")
	}
	repo, number, errResult, resolved := resolvePR(ctx, h.host, req)
	if !resolved {
		return errResult
	}
	if gate, ok := policyGate(ctx, h.policies, req.UserID, repo); !ok {
		return gate
	}

	return Propose(
		fmt.Sprintf("request review from %s on PR %d", reviewer, number),
		map[string]any{"reviewer": reviewer, "pr_number": number, "repo": repo},
	)
}

// Execute performs the review request.
func (h *RequestReviewHandler) Execute(ctx context.Context, req *Request) Result {
	reviewer, _ := intent.EntityString(req.Entities, "reviewer")
	repo, number, errResult, resolved := resolvePR(ctx, h.host, req)
	if !resolved {
		return errResult
	}
	if gate, ok := policyGate(ctx, h.policies, req.UserID, repo); !ok {
		return gate
	}

	writeCtx, cancel := context.WithTimeout(ctx, hostWriteTimeout)
	defer cancel()
	if err := h.host.RequestReview(writeCtx, repo, number, reviewer); err != nil {
		return mapHostError(err)
	}
	return Executed(fmt.Sprintf("Review requested from %s on PR %d.", reviewer, number))
}

// MergeHandler proposes and performs merges, verifying checks first.
type MergeHandler struct {
	host     codehost.Client
	policies store.RepoPolicyStore
}

// NewMergeHandler creates the pr.merge handler.
func NewMergeHandler(host codehost.Client, policies store.RepoPolicyStore) *MergeHandler {
	return &MergeHandler{host: host, policies: policies}
}

// Name returns "pr.merge".
func (h *MergeHandler) Name() string { return "pr.merge" }

// SideEffect reports true.
func (h *MergeHandler) SideEffect() bool { return true }

// Handle gates on policy and proposes the merge.
func (h *MergeHandler) Handle(ctx context.Context, req *Request) Result {
	repo, number, errResult, resolved := resolvePR(ctx, h.host, req)
	if !resolved {
		return errResult
	}
	if gate, ok := policyGate(ctx, h.policies, req.UserID, repo); !ok {
		return gate
	}

	entities := map[string]any{"pr_number": number, "repo": repo}
	if intent.EntityBool(req.Entities, "force_merge") {
		entities["force_merge"] = true
	}
	return Propose(fmt.Sprintf("merge PR %d", number), entities)
}

// Execute verifies checks (unless forced) and merges.
func (h *MergeHandler) Execute(ctx context.Context, req *Request) Result {
	repo, number, errResult, resolved := resolvePR(ctx, h.host, req)
	if !resolved {
		return errResult
	}
	if gate, ok := policyGate(ctx, h.policies, req.UserID, repo); !ok {
		return gate
	}

	if !intent.EntityBool(req.Entities, "force_merge") {
		readCtx, cancel := context.WithTimeout(ctx, hostReadTimeout)
		checks, err := h.host.GetChecks(readCtx, repo, number)
		cancel()
		if err != nil {
			return mapHostError(err)
		}
		var failing []string
		for _, c := range checks {
			if !c.Passing() {
				failing = append(failing, c.Name)
			}
		}
		if len(failing) > 0 {
			return Errorf(KindConflict, "Not merging: %s still failing.", strings.Join(failing, ", "))
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, hostWriteTimeout)
	defer cancel()
	if err := h.host.Merge(writeCtx, repo, number); err != nil {
		return mapHostError(err)
	}
	return Executed(fmt.Sprintf("Merged PR %d.", number))
}

// ChecksHandler reports aggregate check status.
type ChecksHandler struct {
	host codehost.Client
}

// NewChecksHandler creates the checks.status handler.
func NewChecksHandler(host codehost.Client) *ChecksHandler {
	return &ChecksHandler{host: host}
}

// Name returns "checks.status".
func (h *ChecksHandler) Name() string { return "checks.status" }

// SideEffect reports false.
func (h *ChecksHandler) SideEffect() bool { return false }

// Execute mirrors Handle.
func (h *ChecksHandler) Execute(ctx context.Context, req *Request) Result {
	return h.Handle(ctx, req)
}

// Handle composes the aggregate check status.
func (h *ChecksHandler) Handle(ctx context.Context, req *Request) Result {
	repo, number, errResult, resolved := resolvePR(ctx, h.host, req)
	if !resolved {
		return errResult
	}

	readCtx, cancel := context.WithTimeout(ctx, hostReadTimeout)
	defer cancel()
	checks, err := h.host.GetChecks(readCtx, repo, number)
	if err != nil {
		return mapHostError(err)
	}
	if len(checks) == 0 {
		return Final(fmt.Sprintf("No checks reported on PR %d.", number))
	}

	passing := 0
	var failing []string
	for _, c := range checks {
		if c.Passing() {
			passing++
		} else if c.Status == "completed" {
			failing = append(failing, c.Name)
		}
	}

	spoken := fmt.Sprintf("%d of %d checks passing on PR %d.", passing, len(checks), number)
	if len(failing) > 0 {
		spoken += fmt.Sprintf(" Failing: %s.", strings.Join(failing, ", "))
	}

	lines := make([]string, 0, len(checks))
	for _, c := range checks {
		status := c.Conclusion
		if status == "" {
			status = c.Status
		}
		lines = append(lines, fmt.Sprintf("%s: %s", c.Name, status))
	}
	card := Card{
		Type:     "checks",
		Title:    fmt.Sprintf("Checks on PR #%d", number),
		Subtitle: repo,
		Lines:    lines,
	}
	return Final(spoken, card)
}
