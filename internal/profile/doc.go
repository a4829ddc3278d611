// Package profile defines the closed set of response-shaping profiles:
// spoken word caps, speech rate hints, confirmation stringency, and
// notification priority thresholds.
package profile
