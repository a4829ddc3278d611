// Package webhook ingests code-host deliveries: it verifies signatures,
// persists events replay-protected, normalizes known payloads, routes them
// to subscribed users as notifications, and correlates pull requests back
// to agent tasks. A startup recovery scan re-processes events whose
// outcome was never recorded.
package webhook
