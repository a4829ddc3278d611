// Package intent maps a spoken transcript to a command intent and its
// entities using an ordered first-match-wins regex grammar.
package intent
