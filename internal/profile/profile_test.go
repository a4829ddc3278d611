// ABOUTME: Tests for profile lookup and spoken-text shaping
// ABOUTME: Verifies word caps hold for every profile and sentence-boundary cuts

package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	assert.Equal(t, 15, Lookup("workout").MaxSpokenWords)
	assert.Equal(t, 40, Lookup("kitchen").MaxSpokenWords)
	assert.Equal(t, 30, Lookup("commute").MaxSpokenWords)
	assert.Equal(t, 25, Lookup("default").MaxSpokenWords)
	assert.Equal(t, "default", Lookup("spelunking").Name, "unknown profiles fall back to default")
	assert.Equal(t, "workout", Lookup("  Workout ").Name)
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("workout"))
	assert.True(t, Known("Kitchen"))
	assert.False(t, Known("spelunking"))
}

func TestThresholds(t *testing.T) {
	assert.Equal(t, 4, Threshold("workout"))
	assert.Equal(t, 3, Threshold("commute"))
	assert.Equal(t, 2, Threshold("kitchen"))
	assert.Equal(t, 1, Threshold("default"))
	assert.Equal(t, 1, Threshold("unknown-profile"))
}

func TestConfirmationPolicies(t *testing.T) {
	assert.Equal(t, ConfirmAlways, Lookup("workout").Confirmation)
	assert.Equal(t, ConfirmAlways, Lookup("kitchen").Confirmation)
	assert.Equal(t, ConfirmSideEffectsOnly, Lookup("commute").Confirmation)
	assert.Equal(t, ConfirmSideEffectsOnly, Lookup("default").Confirmation)
}

func TestShape_ShortTextUnchanged(t *testing.T) {
	s := Lookup("workout")
	assert.Equal(t, "You have 3 items.", Shape("You have 3 items.", s))
}

func TestShape_CutsAtSentenceBoundary(t *testing.T) {
	s := Lookup("workout")
	text := "You have three items. The first is PR 101 which needs an urgent review from you before the release branch freezes tonight."
	shaped := Shape(text, s)
	assert.Equal(t, "You have three items.", shaped, "cut at the last period inside the cap")
}

func TestShape_HardCutAddsEllipsis(t *testing.T) {
	s := Lookup("workout")
	text := strings.Repeat("word ", 40)
	shaped := Shape(text, s)
	assert.True(t, strings.HasSuffix(shaped, "…"))
	assert.LessOrEqual(t, len(strings.Fields(shaped)), s.MaxSpokenWords)
}

func TestShape_CapHoldsForEveryProfile(t *testing.T) {
	long := strings.Repeat("alpha beta gamma delta. ", 30)
	for _, name := range []string{"workout", "commute", "kitchen", "default"} {
		s := Lookup(name)
		shaped := Shape(long, s)
		assert.LessOrEqual(t, len(strings.Fields(shaped)), s.MaxSpokenWords, "profile %s", name)
	}
}

func TestSetThreshold(t *testing.T) {
	orig := Threshold("commute")
	defer SetThreshold("commute", orig)

	SetThreshold("commute", 5)
	assert.Equal(t, 5, Threshold("commute"))
}
