// ABOUTME: Pattern-based intent parser over a closed, strictly ordered grammar
// ABOUTME: First matching rule wins; unmatched transcripts parse as "unknown"

package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is a recognized command with its extracted entities. Confidence is
// fixed at 1.0 for a grammar match and 0 for unknown.
type Intent struct {
	Name       string
	Confidence float64
	Entities   map[string]any
}

// Unknown is the intent name returned when no rule matches.
const Unknown = "unknown"

// rule pairs a compiled pattern with the intent it recognizes and an
// optional entity extractor over the submatches.
type rule struct {
	re      *regexp.Regexp
	name    string
	extract func(m []string) map[string]any
}

// Parser matches transcripts against the ordered grammar.
type Parser struct {
	rules []rule
}

// NewParser compiles the grammar. Rule order is significant: earlier rules
// shadow later ones.
func NewParser() *Parser {
	return &Parser{rules: grammar()}
}

// Parse matches the transcript case-insensitively, ignoring surrounding
// whitespace. The first matching rule wins.
func (p *Parser) Parse(transcript string) Intent {
	text := strings.TrimSpace(transcript)
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		var entities map[string]any
		if r.extract != nil {
			entities = r.extract(m)
		}
		return Intent{Name: r.name, Confidence: 1.0, Entities: entities}
	}
	return Intent{Name: Unknown, Confidence: 0, Entities: nil}
}

func grammar() []rule {
	mustRule := func(pattern, name string, extract func(m []string) map[string]any) rule {
		return rule{re: regexp.MustCompile(`(?i)^` + pattern + `$`), name: name, extract: extract}
	}
	prNumber := func(group int) func(m []string) map[string]any {
		return func(m []string) map[string]any {
			n, _ := strconv.Atoi(m[group])
			return map[string]any{"pr_number": n}
		}
	}

	return []rule{
		// System controls come first so "yes" never falls through to a
		// looser pattern.
		mustRule(`(?:repeat|say that again)[.!]?`, "system.repeat", nil),
		mustRule(`(?:confirm|yes|yep|yeah|do it|go ahead)[.!]?`, "system.confirm", nil),
		mustRule(`(?:cancel|no|nope|stop|never mind)[.!]?`, "system.cancel", nil),
		mustRule(`set (?:my )?profile to (\w+)[.!]?`, "system.set_profile", func(m []string) map[string]any {
			return map[string]any{"profile": strings.ToLower(m[1])}
		}),

		// PR operations before inbox so "show my pull requests" does not
		// swallow numbered commands.
		mustRule(`(?:summarize|summarise|tell me about) (?:pr|pull request) #?(\d+)[.?]?`, "pr.summarize", prNumber(1)),
		mustRule(`request (?:a )?review from @?([\w-]+) on (?:pr|pull request) #?(\d+)[.!]?`, "pr.request_review", func(m []string) map[string]any {
			n, _ := strconv.Atoi(m[2])
			return map[string]any{"reviewer": m[1], "pr_number": n}
		}),
		mustRule(`(?:force[- ])?merge (?:pr|pull request) #?(\d+)[.!]?`, "pr.merge", func(m []string) map[string]any {
			n, _ := strconv.Atoi(m[1])
			entities := map[string]any{"pr_number": n}
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(m[0])), "force") {
				entities["force_merge"] = true
			}
			return entities
		}),
		mustRule(`merge it[.!]?`, "pr.merge", nil),

		mustRule(`what'?s the status of (?:pr |pull request )?#?(\d+)\??`, "checks.status", prNumber(1)),
		mustRule(`are (?:the )?checks passing(?: on (?:pr |pull request )?#?(\d+))?\??`, "checks.status", func(m []string) map[string]any {
			if m[1] == "" {
				return nil
			}
			n, _ := strconv.Atoi(m[1])
			return map[string]any{"pr_number": n}
		}),

		mustRule(`(?:inbox|what'?s in my inbox|show (?:me )?my pull requests)\??`, "inbox.list", nil),

		mustRule(`(?:have|get) an agent (?:to )?(.+)`, "agent.delegate", func(m []string) map[string]any {
			return map[string]any{"instruction": strings.TrimSpace(m[1])}
		}),
		mustRule(`delegate (.+) to an agent[.!]?`, "agent.delegate", func(m []string) map[string]any {
			return map[string]any{"instruction": strings.TrimSpace(m[1])}
		}),
		mustRule(`how(?:'s| is) task ([\w-]+)(?: doing)?\??`, "agent.progress", func(m []string) map[string]any {
			return map[string]any{"task_id": m[1]}
		}),
		mustRule(`how(?:'s| is) the agent(?: doing)?\??`, "agent.progress", nil),

		mustRule(`next[.!]?`, "navigation.next", nil),
	}
}

// EntityInt reads an integer entity, tolerating the float64 that JSON
// round-trips produce for stored pending actions.
func EntityInt(entities map[string]any, key string) (int, bool) {
	if entities == nil {
		return 0, false
	}
	switch v := entities[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// EntityString reads a string entity.
func EntityString(entities map[string]any, key string) (string, bool) {
	if entities == nil {
		return "", false
	}
	s, ok := entities[key].(string)
	return s, ok && s != ""
}

// EntityBool reads a boolean entity.
func EntityBool(entities map[string]any, key string) bool {
	if entities == nil {
		return false
	}
	b, ok := entities[key].(bool)
	return ok && b
}
