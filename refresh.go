package authpipe

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/authpipe/internal/flows"
	"github.com/MrEthical07/authpipe/storage"
	"go.uber.org/zap"
)

// GetValidToken returns a credential that is not inside the guard window, refreshing
// it when needed. Without a signed-in identity it returns whatever is cached. It never
// fails; a failed refresh yields (Token{}, false).
func (p *Pipeline) GetValidToken(ctx context.Context) (Token, bool) {
	raw, cached := p.cachedCredential(ctx)

	id := p.provider.CurrentIdentity(ctx)
	if id == nil {
		if !cached {
			return Token{}, false
		}
		tok, err := ParseToken(raw)
		if err != nil {
			return Token{Raw: raw}, true
		}
		return tok, true
	}

	if cached {
		tok, err := ParseToken(raw)
		if err == nil && tok.State(p.now(), p.cfg.Token.GuardWindow) == TokenFresh {
			p.metrics.Inc(MetricTokenCacheHit)
			return tok, true
		}
	}

	tok, err := p.RefreshToken(ctx, id)
	if err != nil {
		return Token{}, false
	}
	return tok, true
}

// RefreshToken asks the identity provider for a new credential and caches it.
// Concurrent calls share one provider call and its result. The shared call is
// bounded by Config.Refresh.Timeout, not by ctx; ctx only bounds this caller's wait.
func (p *Pipeline) RefreshToken(ctx context.Context, id *Identity) (Token, error) {
	if id == nil {
		return Token{}, ErrNoIdentity
	}
	if p.closed.Load() {
		return Token{}, ErrPipelineClosed
	}

	ch := p.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return p.runRefresh(ctx, id)
	})

	select {
	case r := <-ch:
		if r.Shared {
			p.metrics.Inc(MetricRefreshShared)
		}
		if r.Err != nil {
			return Token{}, r.Err
		}
		return r.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

func (p *Pipeline) runRefresh(parent context.Context, id *Identity) (Token, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), p.cfg.Refresh.Timeout)
	defer cancel()

	start := time.Now()
	res := flows.RunRefresh(ctx, flows.RefreshDeps{
		Wait: p.throttle.Wait,
		Issue: func(ctx context.Context) (string, error) {
			return p.provider.IssueCredential(ctx, id, true)
		},
		Persist: func(ctx context.Context, credential string) error {
			return p.store.Set(ctx, storage.CredentialKey, credential)
		},
		Purge: func(ctx context.Context) error {
			return p.store.Delete(ctx, storage.CredentialKey)
		},
		Warn: func(msg string, err error) {
			p.logger.Warn(msg, zap.String("uid", id.UID), zap.Error(err))
		},
	})
	p.metrics.Observe(MetricRefreshLatency, time.Since(start))

	switch res.Failure {
	case flows.RefreshFailureThrottled:
		p.metrics.Inc(MetricRefreshThrottled)
		p.metrics.Inc(MetricRefreshFailure)
		return Token{}, fmt.Errorf("%w: %w: %v", ErrRefreshFailed, ErrRefreshThrottled, res.Err)
	case flows.RefreshFailureIssue, flows.RefreshFailureEmpty:
		p.metrics.Inc(MetricRefreshFailure)
		p.logger.Warn("credential refresh failed", zap.String("uid", id.UID), zap.Error(res.Err))
		p.emit(ctx, AuthEvent{Type: EventRefreshFailed, UID: id.UID, Reason: res.Err.Error()})
		return Token{}, fmt.Errorf("%w: %w", ErrRefreshFailed, res.Err)
	}

	if !res.Persisted {
		p.metrics.Inc(MetricRefreshPersistFailure)
	}
	p.metrics.Inc(MetricRefreshSuccess)

	tok, err := ParseToken(res.Credential)
	if err != nil {
		p.logger.Warn("refreshed credential is not decodable", zap.String("uid", id.UID), zap.Error(err))
		tok = Token{Raw: res.Credential}
	}
	p.logger.Debug("credential refreshed",
		zap.String("uid", id.UID),
		zap.Time("expires_at", tok.ExpiresAt),
	)
	p.emit(ctx, AuthEvent{Type: EventTokenRefreshed, UID: id.UID, ExpiresAt: tok.ExpiresAt})
	return tok, nil
}

// TokenExpiration returns the exp of the cached credential.
func (p *Pipeline) TokenExpiration(ctx context.Context) (time.Time, bool) {
	raw, ok := p.cachedCredential(ctx)
	if !ok {
		return time.Time{}, false
	}
	tok, err := ParseToken(raw)
	if err != nil {
		return time.Time{}, false
	}
	return tok.ExpiresAt, true
}

// IsTokenExpiringSoon reports whether the cached credential expires within
// Config.Token.ExpiringSoonWindow. A missing or undecodable credential counts as expiring.
func (p *Pipeline) IsTokenExpiringSoon(ctx context.Context) bool {
	exp, ok := p.TokenExpiration(ctx)
	if !ok {
		return true
	}
	return !exp.After(p.now().Add(p.cfg.Token.ExpiringSoonWindow))
}

func (p *Pipeline) cachedCredential(ctx context.Context) (string, bool) {
	raw, ok, err := p.store.Get(ctx, storage.CredentialKey)
	if err != nil {
		p.logger.Warn("credential read failed", zap.Error(err))
		return "", false
	}
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}
