// Package auth resolves caller identity for API requests under one of
// three modes: dev (trusted header), jwt (HS256 bearer tokens), or api_key
// (static key table). The core consumes the resolved user id only.
package auth
