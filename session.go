package authpipe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/MrEthical07/authpipe/internal/flows"
	"github.com/MrEthical07/authpipe/storage"
	"go.uber.org/zap"
)

type exchangeResponse struct {
	User json.RawMessage `json:"user"`
}

// SignIn exchanges the provider credential of the signed-in identity for a backend
// session, caches the credential and the returned user, and starts the scheduler
// when Config.Refresh.AutoStartOnSignIn is set.
func (p *Pipeline) SignIn(ctx context.Context) (*UserSnapshot, error) {
	id := p.provider.CurrentIdentity(ctx)
	if id == nil {
		return nil, ErrNoIdentity
	}

	credential, err := p.provider.IssueCredential(ctx, id, false)
	if err != nil {
		p.metrics.Inc(MetricSignInFailure)
		return nil, fmt.Errorf("issue credential: %w", err)
	}

	req, err := NewJSONRequest(http.MethodPost, p.cfg.API.ExchangePath, map[string]string{
		"firebase_token": credential,
	})
	if err != nil {
		return nil, err
	}
	resp, err := p.Dispatch(ctx, req)
	if err != nil {
		p.metrics.Inc(MetricSignInFailure)
		p.logger.Warn("credential exchange failed", zap.String("uid", id.UID), zap.Error(err))
		return nil, errors.Join(ErrExchangeFailed, err)
	}

	if err := p.store.Set(ctx, storage.CredentialKey, credential); err != nil {
		p.metrics.Inc(MetricSignInFailure)
		return nil, fmt.Errorf("store credential: %w", err)
	}

	var snapshot *UserSnapshot
	var body exchangeResponse
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			p.logger.Warn("exchange response is not JSON", zap.Error(err))
		}
	}
	if raw := bytes.TrimSpace(body.User); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		snapshot, err = p.storeUser(ctx, raw)
		if err != nil {
			p.metrics.Inc(MetricSignInFailure)
			return nil, err
		}
	}

	p.stopTeardownTimer()
	p.handlingAuthError.Store(false)
	if p.cfg.Refresh.AutoStartOnSignIn {
		p.StartAutoRefresh()
	}

	p.metrics.Inc(MetricSignIn)
	event := AuthEvent{Type: EventSignedIn, UID: id.UID}
	if tok, err := ParseToken(credential); err == nil {
		event.ExpiresAt = tok.ExpiresAt
	}
	p.emit(ctx, event)
	p.logger.Debug("signed in", zap.String("uid", id.UID))
	return snapshot, nil
}

// SignOut ends the backend session, then the provider session, and always clears
// local state. Backend failures are logged; provider and storage failures are returned.
func (p *Pipeline) SignOut(ctx context.Context) error {
	uid := p.uid(ctx)

	deps := flows.SignOutDeps{
		Clear: func(ctx context.Context) error {
			return p.store.Delete(ctx, storage.CredentialKey, storage.UserSnapshotKey)
		},
		StopRefresh: p.StopAutoRefresh,
	}
	if p.cfg.API.LogoutPath != "" {
		deps.NotifyBackend = p.notifyLogout
	}
	if so, ok := p.provider.(SignOuter); ok {
		deps.ProviderSignOut = so.SignOut
	}

	res := flows.RunSignOut(ctx, deps)
	p.stopTeardownTimer()

	if res.BackendErr != nil {
		p.logger.Warn("backend logout failed", zap.String("uid", uid), zap.Error(res.BackendErr))
	}
	p.metrics.Inc(MetricSignOut)
	p.emit(ctx, AuthEvent{Type: EventSignedOut, UID: uid})
	return res.Err()
}

// notifyLogout posts the logout path once with the cached credential. It never
// refreshes or tears down.
func (p *Pipeline) notifyLogout(ctx context.Context) error {
	credential, ok := p.cachedCredential(ctx)
	if !ok {
		return nil
	}
	target, err := p.resolve(p.cfg.API.LogoutPath, nil)
	if err != nil {
		return err
	}
	attemptID, ok := RequestIDFromContext(ctx)
	if !ok {
		attemptID = p.newID()
	}
	req := Request{Method: http.MethodPost, Path: p.cfg.API.LogoutPath}
	httpReq, err := p.newHTTPRequest(ctx, http.MethodPost, target, req, credential, attemptID)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(ctx, httpReq)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: logout returned %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// CurrentUser returns the user stored at sign-in.
func (p *Pipeline) CurrentUser(ctx context.Context) (*UserSnapshot, error) {
	raw, ok, err := p.store.Get(ctx, storage.UserSnapshotKey)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return nil, ErrNoUserSnapshot
	}
	return decodeUser([]byte(raw))
}

// FetchCurrentUser loads the signed-in user from Config.API.UserPath and replaces
// the stored snapshot.
func (p *Pipeline) FetchCurrentUser(ctx context.Context) (*UserSnapshot, error) {
	resp, err := p.Dispatch(ctx, Request{Method: http.MethodGet, Path: p.cfg.API.UserPath})
	if err != nil {
		return nil, err
	}
	return p.storeUser(ctx, bytes.TrimSpace(resp.Body))
}

func (p *Pipeline) storeUser(ctx context.Context, raw []byte) (*UserSnapshot, error) {
	snapshot, err := decodeUser(raw)
	if err != nil {
		return nil, err
	}
	if err := p.store.Set(ctx, storage.UserSnapshotKey, string(raw)); err != nil {
		return nil, fmt.Errorf("store user: %w", err)
	}
	return snapshot, nil
}

func decodeUser(raw []byte) (*UserSnapshot, error) {
	var u UserSnapshot
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	u.Raw = append(json.RawMessage(nil), raw...)
	return &u, nil
}
