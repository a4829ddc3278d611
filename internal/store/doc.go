// Package store provides persistence for visor-gateway: the append-only
// webhook event log, notifications with dedupe lookups, push and repo
// subscriptions, agent tasks, and repo write policies.
//
// Two implementations exist: SQLiteStore for production (modernc.org/sqlite,
// WAL mode, schema auto-created) and MockStore for tests. Both enforce the
// unique (source, delivery_id) constraint that makes webhook replay safe.
package store
