// ABOUTME: Inbox handler: prioritized list of PRs needing the user's attention
// ABOUTME: Stores the list in the session so "next" can walk it

package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/session"
)

// inboxItem is the session-persisted view of one inbox entry.
type inboxItem struct {
	Repo     string `json:"repo"`
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Author   string `json:"author"`
	Priority int    `json:"priority"`
	URL      string `json:"url,omitempty"`
}

// itemPriority ranks an inbox entry: urgent/security 5, bug 4,
// reviewer-or-assignee 3, other 2.
func itemPriority(pr codehost.PullRequest) int {
	for _, label := range pr.Labels {
		switch strings.ToLower(label) {
		case "urgent", "security", "critical":
			return 5
		}
	}
	for _, label := range pr.Labels {
		if strings.EqualFold(label, "bug") {
			return 4
		}
	}
	if pr.RoleReviewer || pr.RoleAssignee {
		return 3
	}
	return 2
}

// InboxHandler lists PRs where the user is reviewer or assignee.
type InboxHandler struct {
	host     codehost.Client
	sessions *session.Store
}

// NewInboxHandler creates the inbox.list handler.
func NewInboxHandler(host codehost.Client, sessions *session.Store) *InboxHandler {
	return &InboxHandler{host: host, sessions: sessions}
}

// Name returns "inbox.list".
func (h *InboxHandler) Name() string { return "inbox.list" }

// SideEffect reports false; listing is a read.
func (h *InboxHandler) SideEffect() bool { return false }

// Execute mirrors Handle.
func (h *InboxHandler) Execute(ctx context.Context, req *Request) Result {
	return h.Handle(ctx, req)
}

// Handle fetches, prioritizes, and summarizes the inbox.
func (h *InboxHandler) Handle(ctx context.Context, req *Request) Result {
	readCtx, cancel := context.WithTimeout(ctx, hostReadTimeout)
	defer cancel()

	prs, err := h.host.ListUserPRs(readCtx, req.UserID)
	if err != nil {
		return mapHostError(err)
	}
	if len(prs) == 0 {
		return Final("Your inbox is empty.")
	}

	items := make([]inboxItem, 0, len(prs))
	for _, pr := range prs {
		items = append(items, inboxItem{
			Repo:     pr.Repo,
			Number:   pr.Number,
			Title:    pr.Title,
			Author:   pr.Author,
			Priority: itemPriority(pr),
			URL:      pr.URL,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})

	var spoken strings.Builder
	fmt.Fprintf(&spoken, "You have %d items.", len(items))
	connectors := []string{" First,", " Then,", " And,"}
	for i, item := range items {
		if i >= len(connectors) {
			break
		}
		fmt.Fprintf(&spoken, "%s PR %d: %s.", connectors[i], item.Number, item.Title)
	}

	cards := make([]Card, 0, len(items))
	for _, item := range items {
		cards = append(cards, Card{
			Type:     "pr",
			Title:    fmt.Sprintf("PR #%d", item.Number),
			Subtitle: item.Title,
			Lines:    []string{item.Repo, "by " + item.Author, fmt.Sprintf("priority %d", item.Priority)},
			DeepLink: item.URL,
		})
	}

	if data, err := json.Marshal(items); err == nil {
		// Best effort: navigation degrades if the session write fails.
		_ = h.sessions.SetList(ctx, req.UserID, req.SessionID, data, 0)
	}

	return Final(spoken.String(), cards...)
}
