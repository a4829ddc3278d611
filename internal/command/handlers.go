// ABOUTME: Shared handler helpers: target resolution, policy gate, error mapping
// ABOUTME: External calls carry deadlines; deadline hits map to the timeout kind

package command

import (
	"context"
	"errors"
	"time"

	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/intent"
	"github.com/2389/visor-gateway/internal/store"
)

const (
	hostReadTimeout  = 10 * time.Second
	hostWriteTimeout = 15 * time.Second
)

// mapHostError converts a code-host error into a typed error result.
func mapHostError(err error) Result {
	var rl *codehost.RateLimitError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Errorf(KindTimeout, "That took too long. Try again in a moment.")
	case errors.As(err, &rl):
		return Errorf(KindRateLimited, "The code host is rate limiting us. Try again after %s.", rl.ResetAt.Format("15:04"))
	case errors.Is(err, codehost.ErrNotFound):
		return Errorf(KindNotFound, "I couldn't find that on the code host.")
	case errors.Is(err, codehost.ErrAuth):
		return Errorf(KindUpstream, "The code host rejected our credentials.")
	default:
		return Errorf(KindUpstream, "The code host isn't responding right now.")
	}
}

// resolvePR determines the target repo and PR number: explicit entity
// first, session focus next, and as a last resort a scan of the user's
// open PRs for a matching number.
func resolvePR(ctx context.Context, host codehost.Client, req *Request) (string, int, Result, bool) {
	number, ok := intent.EntityInt(req.Entities, "pr_number")
	if !ok && req.Session != nil && req.Session.FocusPR > 0 {
		number = req.Session.FocusPR
	}
	if number == 0 {
		return "", 0, Errorf(KindValidation, "Which PR?"), false
	}

	if repo, ok := intent.EntityString(req.Entities, "repo"); ok {
		return repo, number, Result{}, true
	}
	if req.Session != nil && req.Session.FocusRepo != "" {
		return req.Session.FocusRepo, number, Result{}, true
	}

	readCtx, cancel := context.WithTimeout(ctx, hostReadTimeout)
	defer cancel()
	prs, err := host.ListUserPRs(readCtx, req.UserID)
	if err != nil {
		return "", 0, mapHostError(err), false
	}
	for _, pr := range prs {
		if pr.Number == number {
			return pr.Repo, number, Result{}, true
		}
	}
	return "", 0, Errorf(KindNotFound, "I can't find PR %d in your open pull requests.", number), false
}

// writeAllowed consults the repo policy, then the "*" wildcard seeded from
// config; a missing policy allows writes.
func writeAllowed(ctx context.Context, policies store.RepoPolicyStore, userID, repo string) (bool, error) {
	policy, err := policies.GetRepoPolicy(ctx, userID, repo)
	if errors.Is(err, store.ErrNotFound) {
		policy, err = policies.GetRepoPolicy(ctx, "*", repo)
	}
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return policy.AllowWrite, nil
}

// policyGate returns the forbidden result for a denied write, before any
// pending action is issued.
func policyGate(ctx context.Context, policies store.RepoPolicyStore, userID, repo string) (Result, bool) {
	allowed, err := writeAllowed(ctx, policies, userID, repo)
	if err != nil {
		return Errorf(KindInternal, "I couldn't check the repository policy."), false
	}
	if !allowed {
		return Errorf(KindForbidden, "Writes to %s are not allowed from this assistant.", repo), false
	}
	return Result{}, true
}
