// Package secrets resolves opaque secret references such as env://KEY and
// file://path into their values.
package secrets
