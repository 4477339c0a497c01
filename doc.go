// Package authpipe is the authenticated request pipeline of the Venti client: it keeps a
// bearer credential fresh, attaches it to outbound API calls, retries once after a 401
// with a refreshed credential, and tears the session down when recovery is impossible.
//
// A [Pipeline] is built once through [Builder.Build] and is safe for concurrent use.
// Concurrent refreshes share one identity-provider call.
//
// # Architecture boundaries
//
// authpipe is the public surface. It exposes [Pipeline], [Builder], [Config], [Token],
// [RequestError] and the event types. The per-request state machine lives in
// internal/flows, the HTTP layer in internal/transport, and refresh pacing in
// internal/throttle. Storage backends live in the storage package and identity
// providers in the identity package.
//
// # What this package must NOT do
//
//   - Verify credential signatures. The backend owns verification; the pipeline only
//     reads exp and iat.
//   - Cancel in-flight requests during teardown.
//   - Navigate away from the login surface when it is already showing.
//   - Import any sub-package that re-imports authpipe (no import cycles).
package authpipe
