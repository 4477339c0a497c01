package authpipe

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authpipe/internal/flows"
	"github.com/MrEthical07/authpipe/internal/throttle"
	"github.com/MrEthical07/authpipe/internal/transport"
	"github.com/MrEthical07/authpipe/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshKey is the only singleflight key: a process holds one session.
const refreshKey = "session"

// Pipeline is the authenticated request pipeline. Build it with [Builder.Build].
type Pipeline struct {
	cfg      Config
	baseURL  *url.URL
	exempt   []string
	provider IdentityProvider
	store    storage.Storage
	nav      Navigator
	client   *transport.Client
	throttle *throttle.Limiter
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	events   *eventDispatcher
	subs     *subscribers
	now      func() time.Time
	newID    func() string

	dispatchDeps flows.DispatchDeps

	refreshGroup singleflight.Group

	handlingAuthError atomic.Bool
	teardownPending   atomic.Bool
	teardownMu        sync.Mutex
	teardownTimer     *time.Timer

	schedMu   sync.Mutex
	schedStop chan struct{}
	schedWG   sync.WaitGroup

	ownedRedis redis.UniversalClient
	closed     atomic.Bool
	closeOnce  sync.Once
}

// Close stops the scheduler, cancels a pending teardown redirect, flushes events and
// releases owned connections. In-flight requests are not cancelled.
func (p *Pipeline) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.StopAutoRefresh()
		p.schedWG.Wait()
		p.stopTeardownTimer()
		p.events.Close()
		if p.ownedRedis != nil {
			err = p.ownedRedis.Close()
		}
	})
	return err
}

// OnAuthStateChange registers fn for every auth event and returns its unsubscribe func.
func (p *Pipeline) OnAuthStateChange(fn func(AuthEvent)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	return p.subs.add(fn)
}

// MetricsSnapshot returns a copy of the pipeline counters.
func (p *Pipeline) MetricsSnapshot() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// EventsDropped reports events dropped by the buffered dispatcher.
func (p *Pipeline) EventsDropped() uint64 {
	return p.events.Dropped()
}

// BaseURL returns a copy of the API base URL. Its path always ends in "/".
func (p *Pipeline) BaseURL() *url.URL {
	u := *p.baseURL
	return &u
}

// IsHandlingAuthError reports whether a teardown has run since the last success or sign-in.
func (p *Pipeline) IsHandlingAuthError() bool {
	return p.handlingAuthError.Load()
}

func (p *Pipeline) emit(ctx context.Context, event AuthEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	p.events.Emit(ctx, event)
}

func (p *Pipeline) isExempt(path string) bool {
	path = normalizePath(path)
	for _, e := range p.exempt {
		if strings.HasPrefix(path, e) {
			return true
		}
	}
	return false
}

func (p *Pipeline) onLoginSurface() bool {
	if p.nav == nil {
		return false
	}
	current := p.nav.CurrentPath()
	if i := strings.IndexAny(current, "?#"); i >= 0 {
		current = current[:i]
	}
	login := p.cfg.Teardown.LoginPath
	return current == login || strings.TrimSuffix(current, "/") == strings.TrimSuffix(login, "/")
}

func (p *Pipeline) uid(ctx context.Context) string {
	if id := p.provider.CurrentIdentity(ctx); id != nil {
		return id.UID
	}
	return ""
}
