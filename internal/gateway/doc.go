// Package gateway serves the HTTP API: the command and confirm endpoints,
// webhook ingestion, notification and repo subscription CRUD, TTS, the dev
// audio helper, status, and metrics. Authentication is applied as
// middleware; the command plane itself only sees resolved user ids.
package gateway
