// ABOUTME: System and navigation handlers: set_profile and next
// ABOUTME: Repeat, confirm, and cancel are short-circuited by the router itself

package command

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/2389/visor-gateway/internal/intent"
	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/session"
)

// NewSetProfileHandler creates the system.set_profile handler.
func NewSetProfileHandler(profiles *profile.UserStore) Handler {
	return &readHandler{
		name: "system.set_profile",
		fn: func(ctx context.Context, req *Request) Result {
			name, ok := intent.EntityString(req.Entities, "profile")
			if !ok {
				return Errorf(KindValidation, "Which profile?")
			}
			if !profile.Known(name) {
				return Errorf(KindValidation, "I don't know the profile %q. Try workout, commute, kitchen, or default.", name)
			}
			if err := profiles.Set(ctx, req.UserID, name); err != nil {
				return Errorf(KindInternal, "I couldn't switch profiles.")
			}
			return Final(fmt.Sprintf("Profile set to %s.", name))
		},
	}
}

// NewNextHandler creates the navigation.next handler, which walks the
// session's last list.
func NewNextHandler(sessions *session.Store) Handler {
	return &readHandler{
		name: "navigation.next",
		fn: func(ctx context.Context, req *Request) Result {
			if req.Session == nil || len(req.Session.ListItems) == 0 {
				return Errorf(KindValidation, "There's no list to walk. Try saying 'inbox' first.")
			}

			var items []inboxItem
			if err := json.Unmarshal(req.Session.ListItems, &items); err != nil {
				return Errorf(KindInternal, "I lost track of the list.")
			}

			cursor := req.Session.ListCursor + 1
			if cursor >= len(items) {
				return Final("That's everything in the list.")
			}
			if err := sessions.SetListCursor(ctx, req.UserID, req.SessionID, cursor); err != nil {
				return Errorf(KindInternal, "I lost track of the list.")
			}

			item := items[cursor]
			spoken := fmt.Sprintf("Next: PR %d, %s, by %s.", item.Number, item.Title, item.Author)
			card := Card{
				Type:     "pr",
				Title:    fmt.Sprintf("PR #%d", item.Number),
				Subtitle: item.Title,
				Lines:    []string{item.Repo, "by " + item.Author},
				DeepLink: item.URL,
			}
			return Final(spoken, card)
		},
	}
}
