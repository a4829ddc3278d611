// Package session keeps the short-lived per-session context: the last
// response for "repeat", the repo/PR focus, and the last list with its
// cursor. State lives in the KV store under a sliding TTL.
package session
