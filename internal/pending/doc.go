// Package pending issues one-shot confirmation tokens for deferred side
// effects. Tokens are 128-bit random values stored in the KV layer with a
// TTL; consume is atomic, so at most one confirmer observes success.
package pending
