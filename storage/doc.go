// Package storage provides the persistent key-value slots the pipeline caches its
// credential and user snapshot in.
//
// # Keys
//
//   - [CredentialKey]: the current bearer credential.
//   - [UserSnapshotKey]: the backend user as serialized JSON.
//
// Writes are last-write-wins. The pipeline is the only writer; single-flight refresh
// keeps concurrent refreshes from racing on [CredentialKey].
//
// # Backends
//
//   - [Memory]: process-local map.
//   - [Redis]: go-redis client, keys namespaced by a prefix.
//
// # What this package must NOT do
//
//   - Interpret credential contents.
//   - Import authpipe or identity.
package storage
