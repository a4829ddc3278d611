// ABOUTME: Tests for the intent parser grammar
// ABOUTME: Table-driven coverage of every intent plus ordering and unknowns

package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Grammar(t *testing.T) {
	p := NewParser()

	tests := []struct {
		transcript string
		wantName   string
		wantEnt    map[string]any
	}{
		{"repeat", "system.repeat", nil},
		{"Say that again", "system.repeat", nil},
		{"confirm", "system.confirm", nil},
		{"yes", "system.confirm", nil},
		{"Do it", "system.confirm", nil},
		{"cancel", "system.cancel", nil},
		{"no", "system.cancel", nil},
		{"stop", "system.cancel", nil},
		{"set profile to workout", "system.set_profile", map[string]any{"profile": "workout"}},
		{"Set my profile to Kitchen", "system.set_profile", map[string]any{"profile": "kitchen"}},
		{"inbox", "inbox.list", nil},
		{"what's in my inbox", "inbox.list", nil},
		{"show my pull requests", "inbox.list", nil},
		{"show me my pull requests?", "inbox.list", nil},
		{"summarize pr 412", "pr.summarize", map[string]any{"pr_number": 412}},
		{"Tell me about PR #7", "pr.summarize", map[string]any{"pr_number": 7}},
		{"request review from alice on pr 9", "pr.request_review", map[string]any{"reviewer": "alice", "pr_number": 9}},
		{"request a review from @bob-dev on pull request #12", "pr.request_review", map[string]any{"reviewer": "bob-dev", "pr_number": 12}},
		{"merge pr 412", "pr.merge", map[string]any{"pr_number": 412}},
		{"Merge pull request #3", "pr.merge", map[string]any{"pr_number": 3}},
		{"force-merge pr 5", "pr.merge", map[string]any{"pr_number": 5, "force_merge": true}},
		{"merge it", "pr.merge", nil},
		{"what's the status of pr 44", "checks.status", map[string]any{"pr_number": 44}},
		{"are checks passing on 44", "checks.status", map[string]any{"pr_number": 44}},
		{"are the checks passing?", "checks.status", nil},
		{"have an agent fix the flaky login test", "agent.delegate", map[string]any{"instruction": "fix the flaky login test"}},
		{"have an agent to update the changelog", "agent.delegate", map[string]any{"instruction": "update the changelog"}},
		{"delegate writing release notes to an agent", "agent.delegate", map[string]any{"instruction": "writing release notes"}},
		{"how's the agent doing", "agent.progress", nil},
		{"how is task t-42 doing?", "agent.progress", map[string]any{"task_id": "t-42"}},
		{"next", "navigation.next", nil},
		{"  NEXT  ", "navigation.next", nil},
		{"please order a pizza", "unknown", nil},
		{"", "unknown", nil},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got := p.Parse(tt.transcript)
			assert.Equal(t, tt.wantName, got.Name)
			if tt.wantName == Unknown {
				assert.Zero(t, got.Confidence)
			} else {
				assert.Equal(t, 1.0, got.Confidence)
			}
			if tt.wantEnt != nil {
				assert.Equal(t, tt.wantEnt, got.Entities)
			}
		})
	}
}

func TestParser_OrderingConfirmBeforeLooser(t *testing.T) {
	p := NewParser()

	// "yes" and "no" must resolve as system intents, not fall through.
	assert.Equal(t, "system.confirm", p.Parse("yes").Name)
	assert.Equal(t, "system.cancel", p.Parse("no").Name)
}

func TestEntityHelpers(t *testing.T) {
	n, ok := EntityInt(map[string]any{"pr_number": 412}, "pr_number")
	require.True(t, ok)
	assert.Equal(t, 412, n)

	// JSON round-trips produce float64.
	n, ok = EntityInt(map[string]any{"pr_number": float64(412)}, "pr_number")
	require.True(t, ok)
	assert.Equal(t, 412, n)

	n, ok = EntityInt(map[string]any{"pr_number": "412"}, "pr_number")
	require.True(t, ok)
	assert.Equal(t, 412, n)

	_, ok = EntityInt(nil, "pr_number")
	assert.False(t, ok)

	s, ok := EntityString(map[string]any{"reviewer": "alice"}, "reviewer")
	require.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = EntityString(map[string]any{}, "reviewer")
	assert.False(t, ok)

	assert.True(t, EntityBool(map[string]any{"force_merge": true}, "force_merge"))
	assert.False(t, EntityBool(nil, "force_merge"))
}
