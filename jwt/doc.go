// Package jwt decodes the self-describing payload of bearer credentials and mints
// HS256 credentials for in-process identity providers.
//
// # Decoding
//
// [Decode] reads the `exp` and `iat` claims without verifying the signature. The
// client pipeline only needs the validity window; signature verification belongs to
// the protected API.
//
// # What this package must NOT do
//
//   - Perform I/O or hold credentials beyond a single call.
//   - Import authpipe, storage, or identity.
package jwt
