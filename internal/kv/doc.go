// Package kv provides a TTL-aware key/value store with an atomic
// consume primitive, backed either by an in-process map or by Redis.
package kv
