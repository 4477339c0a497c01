// Package identity provides [authpipe.IdentityProvider] implementations.
//
// [Local] mints credentials in process through the jwt package. It backs tests, the
// load tool and local development, and supports revocation and failure injection.
// [SecureToken] refreshes credentials against a Firebase-style secure-token REST
// endpoint.
//
// # What this package must NOT do
//
//   - Cache credentials in pipeline storage. The pipeline owns the credential slot.
//   - Retry failed issuance. The pipeline decides whether a failure ends the session.
package identity
