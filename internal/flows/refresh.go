package flows

import (
	"context"
	"errors"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureThrottled
	RefreshFailureIssue
	RefreshFailureEmpty
)

// RefreshResult carries either the issued credential or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	Credential string
	// Persisted is false when the credential was issued but could not be stored.
	Persisted bool
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	// Wait paces calls to the identity provider; nil means no pacing.
	Wait func(context.Context) error
	// Issue asks the identity provider for a force-refreshed credential.
	Issue   func(context.Context) (string, error)
	Persist func(context.Context, string) error
	// Purge removes the cached credential after a failed refresh.
	Purge func(context.Context) error
	Warn  func(msg string, err error)
}

var errEmptyCredential = errors.New("identity provider returned empty credential")

// RunRefresh issues one credential and persists it. On failure the cached
// credential is purged so no caller keeps using a revoked session.
func RunRefresh(ctx context.Context, deps RefreshDeps) RefreshResult {
	if deps.Wait != nil {
		if err := deps.Wait(ctx); err != nil {
			return RefreshResult{Failure: RefreshFailureThrottled, Err: err}
		}
	}

	credential, err := deps.Issue(ctx)
	if err != nil {
		purge(ctx, deps)
		return RefreshResult{Failure: RefreshFailureIssue, Err: err}
	}
	if credential == "" {
		purge(ctx, deps)
		return RefreshResult{Failure: RefreshFailureEmpty, Err: errEmptyCredential}
	}

	res := RefreshResult{Credential: credential, Persisted: true}
	if err := deps.Persist(ctx, credential); err != nil {
		res.Persisted = false
		if deps.Warn != nil {
			deps.Warn("refreshed credential not persisted", err)
		}
	}
	return res
}

func purge(ctx context.Context, deps RefreshDeps) {
	if deps.Purge == nil {
		return
	}
	if err := deps.Purge(ctx); err != nil && deps.Warn != nil {
		deps.Warn("stale credential purge failed", err)
	}
}
