package flows

import (
	"context"
	"errors"
)

// SignOutDeps captures sign-out flow dependencies.
type SignOutDeps struct {
	// NotifyBackend ends the backend session; nil skips it.
	NotifyBackend func(context.Context) error
	// ProviderSignOut ends the identity provider session; nil skips it.
	ProviderSignOut func(context.Context) error
	Clear           func(context.Context) error
	StopRefresh     func()
}

// SignOutResult reports which steps failed. Local state is cleared regardless.
type SignOutResult struct {
	BackendErr  error
	ProviderErr error
	ClearErr    error
}

// Err joins the provider and storage failures. The backend notification is best
// effort, so BackendErr is left out.
func (r SignOutResult) Err() error {
	return errors.Join(r.ProviderErr, r.ClearErr)
}

// RunSignOut ends the backend and provider sessions, then clears local state even
// when either of those fails.
func RunSignOut(ctx context.Context, deps SignOutDeps) SignOutResult {
	var res SignOutResult
	if deps.NotifyBackend != nil {
		res.BackendErr = deps.NotifyBackend(ctx)
	}
	if deps.ProviderSignOut != nil {
		res.ProviderErr = deps.ProviderSignOut(ctx)
	}
	if deps.StopRefresh != nil {
		deps.StopRefresh()
	}
	res.ClearErr = deps.Clear(ctx)
	return res
}
