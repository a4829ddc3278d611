// ABOUTME: Normalizes raw code-host payloads into the internal event shape
// ABOUTME: Uses go-github's typed payloads; unknown event types stay unnormalized

package webhook

import (
	"fmt"

	"github.com/google/go-github/v69/github"
)

// Normalized is the internal view of a webhook payload.
type Normalized struct {
	EventType      string // derived type, e.g. webhook.pr_opened
	Action         string
	Repo           string
	PRNumber       int
	IssueNumber    int
	Author         string
	Ref            string
	SHA            string
	Title          string
	URL            string
	PRBody         string
	InstallationID int64
	Message        string // human notification text
}

// normalize converts a raw payload into the internal event. It returns
// (nil, nil) for event types the pipeline stores but does not process.
func normalize(eventType string, payload []byte) (*Normalized, error) {
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return nil, fmt.Errorf("parsing %s payload: %w", eventType, err)
	}

	switch ev := parsed.(type) {
	case *github.PullRequestEvent:
		return normalizePullRequest(ev), nil
	case *github.PullRequestReviewEvent:
		return normalizeReview(ev), nil
	case *github.CheckSuiteEvent:
		return normalizeCheckSuite(ev), nil
	case *github.IssueCommentEvent:
		return normalizeIssueComment(ev), nil
	default:
		return nil, nil
	}
}

func normalizePullRequest(ev *github.PullRequestEvent) *Normalized {
	pr := ev.GetPullRequest()
	n := &Normalized{
		Action:         ev.GetAction(),
		Repo:           ev.GetRepo().GetFullName(),
		PRNumber:       pr.GetNumber(),
		Author:         pr.GetUser().GetLogin(),
		Ref:            pr.GetHead().GetRef(),
		SHA:            pr.GetHead().GetSHA(),
		Title:          pr.GetTitle(),
		URL:            pr.GetHTMLURL(),
		PRBody:         pr.GetBody(),
		InstallationID: ev.GetInstallation().GetID(),
	}

	switch ev.GetAction() {
	case "opened":
		n.EventType = "webhook.pr_opened"
		n.Message = fmt.Sprintf("PR #%d opened in %s by %s: %s", n.PRNumber, n.Repo, n.Author, n.Title)
	case "closed":
		if pr.GetMerged() {
			n.EventType = "webhook.pr_merged"
			n.Message = fmt.Sprintf("PR #%d merged in %s: %s", n.PRNumber, n.Repo, n.Title)
		} else {
			n.EventType = "webhook.pr_closed"
			n.Message = fmt.Sprintf("PR #%d closed in %s: %s", n.PRNumber, n.Repo, n.Title)
		}
	case "reopened":
		n.EventType = "webhook.pr_reopened"
		n.Message = fmt.Sprintf("PR #%d reopened in %s: %s", n.PRNumber, n.Repo, n.Title)
	case "synchronize":
		n.EventType = "webhook.pr_synchronize"
		n.Message = fmt.Sprintf("PR #%d updated in %s: %s", n.PRNumber, n.Repo, n.Title)
	case "labeled":
		n.EventType = "webhook.pr_labeled"
		n.Message = fmt.Sprintf("PR #%d labeled %q in %s", n.PRNumber, ev.GetLabel().GetName(), n.Repo)
	case "unlabeled":
		n.EventType = "webhook.pr_unlabeled"
		n.Message = fmt.Sprintf("PR #%d unlabeled %q in %s", n.PRNumber, ev.GetLabel().GetName(), n.Repo)
	case "review_requested":
		n.EventType = "webhook.review_requested"
		n.Message = fmt.Sprintf("Review requested on PR #%d in %s: %s", n.PRNumber, n.Repo, n.Title)
	default:
		n.EventType = "webhook.pr_" + ev.GetAction()
		n.Message = fmt.Sprintf("PR #%d %s in %s", n.PRNumber, ev.GetAction(), n.Repo)
	}
	return n
}

func normalizeReview(ev *github.PullRequestReviewEvent) *Normalized {
	pr := ev.GetPullRequest()
	return &Normalized{
		EventType:      "webhook.review_submitted",
		Action:         ev.GetAction(),
		Repo:           ev.GetRepo().GetFullName(),
		PRNumber:       pr.GetNumber(),
		Author:         ev.GetReview().GetUser().GetLogin(),
		Title:          pr.GetTitle(),
		URL:            ev.GetReview().GetHTMLURL(),
		InstallationID: ev.GetInstallation().GetID(),
		Message: fmt.Sprintf("%s reviewed PR #%d in %s: %s",
			ev.GetReview().GetUser().GetLogin(), pr.GetNumber(),
			ev.GetRepo().GetFullName(), ev.GetReview().GetState()),
	}
}

func normalizeCheckSuite(ev *github.CheckSuiteEvent) *Normalized {
	suite := ev.GetCheckSuite()
	n := &Normalized{
		Action:         ev.GetAction(),
		Repo:           ev.GetRepo().GetFullName(),
		Ref:            suite.GetHeadBranch(),
		SHA:            suite.GetHeadSHA(),
		InstallationID: ev.GetInstallation().GetID(),
	}
	if suite.GetConclusion() == "failure" || suite.GetConclusion() == "timed_out" {
		n.EventType = "webhook.check_suite_failed"
		n.Message = fmt.Sprintf("Checks failed on %s in %s", n.Ref, n.Repo)
	} else {
		n.EventType = "webhook.check_suite_completed"
		n.Message = fmt.Sprintf("Checks completed on %s in %s: %s", n.Ref, n.Repo, suite.GetConclusion())
	}
	return n
}

func normalizeIssueComment(ev *github.IssueCommentEvent) *Normalized {
	issue := ev.GetIssue()
	return &Normalized{
		EventType:      "webhook.issue_comment",
		Action:         ev.GetAction(),
		Repo:           ev.GetRepo().GetFullName(),
		IssueNumber:    issue.GetNumber(),
		Author:         ev.GetComment().GetUser().GetLogin(),
		Title:          issue.GetTitle(),
		URL:            ev.GetComment().GetHTMLURL(),
		InstallationID: ev.GetInstallation().GetID(),
		Message: fmt.Sprintf("%s commented on #%d in %s",
			ev.GetComment().GetUser().GetLogin(), issue.GetNumber(), ev.GetRepo().GetFullName()),
	}
}

// metadata builds the notification metadata for a normalized event. Only
// the present reference fields are included, matching the dedupe key
// derivation.
func (n *Normalized) metadata() map[string]any {
	md := map[string]any{"repo": n.Repo, "action": n.Action}
	if n.PRNumber > 0 {
		md["pr_number"] = n.PRNumber
	}
	if n.IssueNumber > 0 {
		md["issue_number"] = n.IssueNumber
	}
	if n.Ref != "" {
		md["ref"] = n.Ref
	}
	if n.SHA != "" {
		md["sha"] = n.SHA
	}
	if n.URL != "" {
		md["url"] = n.URL
	}
	return md
}
