// Package flows contains pure-function orchestrators for the pipeline's operations.
//
// Each flow function (RunDispatch, RunRefresh, RunSignOut) accepts a typed dependency
// struct and returns a result carrying a failure kind, without side effects beyond
// those dependencies. The Pipeline maps failure kinds onto its public error taxonomy.
//
// # Architecture boundaries
//
// Flow functions coordinate calls to the transport, identity provider, storage,
// and throttle. They do NOT own any of these resources; ownership stays with the
// Pipeline.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authpipe (to avoid import cycles).
//   - Perform I/O directly. All I/O is mediated through dependency closures.
package flows
