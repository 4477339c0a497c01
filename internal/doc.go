// Package internal groups the pieces of authpipe that are private to the module.
//
// # Sub-packages
//
//   - flows: pure-function orchestration of dispatch, refresh and sign-out
//   - transport: pooled HTTP client, per-request timeouts and the circuit breaker
//   - throttle: pacing of identity provider calls
//
// Nothing here appears in the public authpipe API.
package internal
