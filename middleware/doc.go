// Package middleware adapts the pipeline to net/http.
//
// # Adapters
//
//   - [NewTransport] is an http.RoundTripper that routes requests under the API base
//     URL through [authpipe.Pipeline.Dispatch], so an existing *http.Client gains
//     credential attachment, retry-once-on-401 and teardown.
//   - [RequireBearer] guards handlers of a protected API with a credential verifier.
//     It backs the fake API of the load tool and tests.
//
// # What this package must NOT do
//
//   - Refresh or cache credentials itself (the pipeline owns both).
//   - Parse credentials directly (verification is delegated to the Verifier).
package middleware
