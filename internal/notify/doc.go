// Package notify creates and queries per-user notifications. Creation
// derives priority from the event type, collapses duplicates inside a
// configurable window, throttles below the profile threshold, and fans
// delivery out to the user's registered push endpoints.
package notify
