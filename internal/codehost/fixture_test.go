// ABOUTME: Tests for the fixture code host
// ABOUTME: Covers seeding, role filtering, write recording, and error cases

package codehost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixture_ListUserPRs(t *testing.T) {
	f := NewSeededFixture()

	prs, err := f.ListUserPRs(context.Background(), "dev-user")
	require.NoError(t, err)
	require.Len(t, prs, 3)
	assert.Equal(t, 103, prs[0].Number, "most recently updated first")
}

func TestFixture_ListSkipsClosedAndUnrelated(t *testing.T) {
	f := NewFixture()
	now := time.Now().UTC()
	f.AddPR(&PullRequest{Repo: "org/x", Number: 1, State: "open", RoleReviewer: true, UpdatedAt: now})
	f.AddPR(&PullRequest{Repo: "org/x", Number: 2, State: "closed", RoleReviewer: true, UpdatedAt: now})
	f.AddPR(&PullRequest{Repo: "org/x", Number: 3, State: "open", UpdatedAt: now})

	prs, err := f.ListUserPRs(context.Background(), "dev-user")
	require.NoError(t, err)
	require.Len(t, prs, 1)
	assert.Equal(t, 1, prs[0].Number)
}

func TestFixture_GetPRNotFound(t *testing.T) {
	f := NewFixture()

	_, err := f.GetPR(context.Background(), "org/x", 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFixture_RequestReviewAndMerge(t *testing.T) {
	f := NewSeededFixture()
	ctx := context.Background()

	require.NoError(t, f.RequestReview(ctx, "org/x", 101, "dana"))
	assert.Equal(t, []string{"dana"}, f.RequestedReviewers("org/x", 101))

	require.NoError(t, f.Merge(ctx, "org/x", 101))
	assert.Equal(t, []string{"org/x#101"}, f.MergedPRs())

	pr, err := f.GetPR(ctx, "org/x", 101)
	require.NoError(t, err)
	assert.Equal(t, "merged", pr.State)

	assert.ErrorIs(t, f.Merge(ctx, "org/x", 999), ErrNotFound)
}

func TestFixture_CreateIssue(t *testing.T) {
	f := NewFixture()

	issue, err := f.CreateIssue(context.Background(), "org/agents", "Agent task", "do the thing")
	require.NoError(t, err)
	assert.Equal(t, 1, issue.Number)
	assert.Contains(t, issue.URL, "org/agents/issues/1")
	assert.Len(t, f.Issues(), 1)
}

func TestCheck_Passing(t *testing.T) {
	assert.True(t, Check{Status: "completed", Conclusion: "success"}.Passing())
	assert.True(t, Check{Status: "completed", Conclusion: "skipped"}.Passing())
	assert.False(t, Check{Status: "completed", Conclusion: "failure"}.Passing())
	assert.False(t, Check{Status: "in_progress"}.Passing())
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("org/x")
	require.NoError(t, err)
	assert.Equal(t, "org", owner)
	assert.Equal(t, "x", name)

	_, _, err = splitRepo("nope")
	assert.Error(t, err)
}
