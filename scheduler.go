package authpipe

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartAutoRefresh starts refreshing the credential every
// Config.Refresh.ProactiveInterval while an identity is signed in. It reports
// false when the scheduler is already running or the pipeline is closed.
func (p *Pipeline) StartAutoRefresh() bool {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	if p.schedStop != nil || p.closed.Load() {
		return false
	}

	stop := make(chan struct{})
	p.schedStop = stop
	p.schedWG.Add(1)
	go p.runScheduler(stop)
	return true
}

// StopAutoRefresh stops the scheduler. Safe to call when it is not running.
func (p *Pipeline) StopAutoRefresh() {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	if p.schedStop == nil {
		return
	}
	close(p.schedStop)
	p.schedStop = nil
}

// AutoRefreshRunning reports whether the scheduler is running.
func (p *Pipeline) AutoRefreshRunning() bool {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	return p.schedStop != nil
}

func (p *Pipeline) runScheduler(stop chan struct{}) {
	defer p.schedWG.Done()

	ticker := time.NewTicker(p.cfg.Refresh.ProactiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx := context.Background()
		id := p.provider.CurrentIdentity(ctx)
		if id == nil {
			continue
		}
		p.metrics.Inc(MetricProactiveRefresh)
		if _, err := p.RefreshToken(ctx, id); err != nil {
			p.logger.Warn("proactive refresh failed, scheduler stopped",
				zap.String("uid", id.UID),
				zap.Error(err),
			)
			p.detachScheduler(stop)
			return
		}
	}
}

// detachScheduler clears the running scheduler if it is still stop.
func (p *Pipeline) detachScheduler(stop chan struct{}) {
	p.schedMu.Lock()
	defer p.schedMu.Unlock()
	if p.schedStop == stop {
		p.schedStop = nil
	}
}
