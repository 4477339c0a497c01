// Package throttle paces credential refresh calls to the identity provider.
//
// Single-flight already collapses concurrent refreshes into one call; the throttle
// bounds the rate of sequential refreshes (for example a server that keeps answering
// 401 to freshly minted credentials).
//
// # What this package must NOT do
//
//   - Reject work outright: callers wait for a token or for their context.
//   - Be imported outside the authpipe module.
package throttle
