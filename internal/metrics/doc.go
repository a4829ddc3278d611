// Package metrics exposes prometheus counters for the gateway.
package metrics
