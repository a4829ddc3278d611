// ABOUTME: Profile tables and response shaping for spoken output
// ABOUTME: Caps spoken word counts and sets confirmation policy per profile

package profile

import (
	"strings"
)

// ConfirmationPolicy controls when side-effect intents require a spoken
// confirmation.
type ConfirmationPolicy string

const (
	ConfirmAlways          ConfirmationPolicy = "always"
	ConfirmSideEffectsOnly ConfirmationPolicy = "side_effects_only"
	ConfirmNever           ConfirmationPolicy = "never"
)

// Settings bundles the shaping parameters of one profile.
type Settings struct {
	Name           string
	MaxSpokenWords int
	SpeechRate     float64
	Confirmation   ConfirmationPolicy
	MinPriority    int // notifications below this priority are throttled
}

// Default is the profile used when a client sends none or an unknown name.
const Default = "default"

// table is the closed set of profiles. Loaded once; SetThreshold may adjust
// thresholds from config at startup.
var table = map[string]Settings{
	"workout": {Name: "workout", MaxSpokenWords: 15, SpeechRate: 1.15, Confirmation: ConfirmAlways, MinPriority: 4},
	"commute": {Name: "commute", MaxSpokenWords: 30, SpeechRate: 1.0, Confirmation: ConfirmSideEffectsOnly, MinPriority: 3},
	"kitchen": {Name: "kitchen", MaxSpokenWords: 40, SpeechRate: 0.95, Confirmation: ConfirmAlways, MinPriority: 2},
	Default:   {Name: Default, MaxSpokenWords: 25, SpeechRate: 1.0, Confirmation: ConfirmSideEffectsOnly, MinPriority: 1},
}

// Lookup returns the settings for name, falling back to the default
// profile for unknown names.
func Lookup(name string) Settings {
	if s, ok := table[strings.ToLower(strings.TrimSpace(name))]; ok {
		return s
	}
	return table[Default]
}

// Known reports whether name is a recognized profile.
func Known(name string) bool {
	_, ok := table[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Threshold returns the minimum notification priority for the profile.
func Threshold(name string) int {
	return Lookup(name).MinPriority
}

// SetThreshold overrides one profile's notification threshold. Called only
// during startup configuration, before any concurrent reads.
func SetThreshold(name string, minPriority int) {
	if s, ok := table[name]; ok {
		s.MinPriority = minPriority
		table[name] = s
	}
}

// Shape truncates spoken text to the profile's word cap, preferring to cut
// at the last sentence boundary inside the cap. Cards are never shaped.
func Shape(spoken string, settings Settings) string {
	words := strings.Fields(spoken)
	if len(words) <= settings.MaxSpokenWords {
		return spoken
	}

	capped := words[:settings.MaxSpokenWords]

	// Prefer the last sentence boundary within the cap.
	for i := len(capped) - 1; i >= 0; i-- {
		if strings.HasSuffix(capped[i], ".") || strings.HasSuffix(capped[i], "!") || strings.HasSuffix(capped[i], "?") {
			return strings.Join(capped[:i+1], " ")
		}
	}

	// Hard cut with an ellipsis fused onto the final word so the word
	// count stays at the cap.
	return strings.Join(capped, " ") + "…"
}
