package authpipe

import (
	"context"
	"time"

	"github.com/MrEthical07/authpipe/storage"
	"go.uber.org/zap"
)

// teardown ends the session: clears the credential and user snapshot, stops the
// scheduler, and redirects to the login surface after Config.Teardown.RedirectDelay.
// Only the first caller since the last success or sign-in has any effect.
func (p *Pipeline) teardown(ctx context.Context, reason, attemptID string) bool {
	if !p.handlingAuthError.CompareAndSwap(false, true) {
		p.metrics.Inc(MetricTeardownSuppressed)
		return false
	}
	p.teardownPending.Store(true)
	p.metrics.Inc(MetricTeardown)

	ctx = context.WithoutCancel(ctx)
	uid := p.uid(ctx)
	p.logger.Warn("session teardown",
		zap.String("reason", reason),
		zap.String("attempt_id", attemptID),
		zap.String("uid", uid),
	)

	p.StopAutoRefresh()
	if err := p.store.Delete(ctx, storage.CredentialKey, storage.UserSnapshotKey); err != nil {
		p.logger.Warn("teardown storage clear failed", zap.Error(err))
	}

	p.emit(ctx, AuthEvent{Type: EventLoadingStarted, UID: uid, Reason: reason, AttemptID: attemptID})

	finish := func() {
		p.emit(ctx, AuthEvent{Type: EventLoadingFinished, UID: uid, Reason: reason, AttemptID: attemptID})
		p.emit(ctx, AuthEvent{
			Type:      EventSessionTerminated,
			UID:       uid,
			Reason:    reason,
			AttemptID: attemptID,
			Path:      p.cfg.Teardown.LoginPath,
		})
		if !p.onLoginSurface() {
			p.nav.Navigate(p.cfg.Teardown.LoginPath)
		}
		p.teardownPending.Store(false)
	}

	p.teardownMu.Lock()
	defer p.teardownMu.Unlock()
	if p.closed.Load() {
		p.teardownPending.Store(false)
		return true
	}
	p.teardownTimer = time.AfterFunc(p.cfg.Teardown.RedirectDelay, func() {
		p.teardownMu.Lock()
		p.teardownTimer = nil
		p.teardownMu.Unlock()
		finish()
	})
	return true
}

// stopTeardownTimer cancels a pending redirect. It reports whether one was pending.
func (p *Pipeline) stopTeardownTimer() bool {
	p.teardownMu.Lock()
	defer p.teardownMu.Unlock()
	if p.teardownTimer == nil {
		return false
	}
	stopped := p.teardownTimer.Stop()
	p.teardownTimer = nil
	if stopped {
		p.teardownPending.Store(false)
	}
	return stopped
}
