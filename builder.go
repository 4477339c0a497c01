package authpipe

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authpipe/internal/throttle"
	"github.com/MrEthical07/authpipe/internal/transport"
	"github.com/MrEthical07/authpipe/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/MrEthical07/authpipe"

// Builder assembles a [Pipeline]. Each Builder builds once.
type Builder struct {
	config Config

	provider  IdentityProvider
	store     storage.Storage
	navigator Navigator
	transport http.RoundTripper
	logger    *zap.Logger
	sink      EventSink
	clock     func() time.Time
	tracing   trace.TracerProvider
	idGen     func() string

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithBaseURL sets Config.API.BaseURL.
func (b *Builder) WithBaseURL(base string) *Builder {
	b.config.API.BaseURL = base
	return b
}

// WithIdentityProvider sets the provider that owns the session. Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.provider = p
	return b
}

// WithStorage injects the credential store. Without it Build uses Redis when
// Config.Storage.RedisAddr is set and memory otherwise.
func (b *Builder) WithStorage(s storage.Storage) *Builder {
	b.store = s
	return b
}

// WithNavigator sets the surface teardown navigates. Defaults to a [Location] at "/".
func (b *Builder) WithNavigator(n Navigator) *Builder {
	b.navigator = n
	return b
}

// WithHTTPTransport replaces the pooled default transport.
func (b *Builder) WithHTTPTransport(rt http.RoundTripper) *Builder {
	b.transport = rt
	return b
}

// WithLogger sets the logger. Defaults to zap.NewNop.
func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithEventSink receives every auth event alongside OnAuthStateChange subscribers.
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.sink = sink
	return b
}

// WithClock overrides the clock used to classify tokens.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithTracerProvider sets the provider Dispatch spans come from. Defaults to the
// global otel provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracing = tp
	return b
}

// WithRequestIDGenerator overrides the X-Request-ID generator.
func (b *Builder) WithRequestIDGenerator(gen func() string) *Builder {
	b.idGen = gen
	return b
}

// WithMetricsEnabled sets Config.Metrics.Enabled.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms sets Config.Metrics.EnableLatencyHistograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready Pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	cfg.API.ExemptPaths = normalizePaths(cfg.API.ExemptPaths)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.provider == nil {
		return nil, errors.New("identity provider required")
	}

	base, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("authpipe")

	p := &Pipeline{
		cfg:      cfg,
		baseURL:  base,
		exempt:   cfg.API.ExemptPaths,
		provider: b.provider,
		store:    b.store,
		nav:      b.navigator,
		logger:   logger,
		metrics:  NewMetrics(cfg.Metrics),
		now:      b.clock,
		newID:    b.idGen,
		throttle: throttle.New(cfg.Refresh.MinInterval, cfg.Refresh.Burst),
	}

	// -------- STORAGE --------
	if p.store == nil {
		if cfg.Storage.RedisAddr != "" {
			client := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.RedisAddr,
				Password: cfg.Storage.RedisPassword,
				DB:       cfg.Storage.RedisDB,
			})
			p.ownedRedis = client
			p.store = storage.NewRedis(client, cfg.Storage.RedisPrefix, cfg.Storage.TTL)
		} else {
			p.store = storage.NewMemory()
		}
	}

	if p.nav == nil {
		p.nav = NewLocation("/")
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.newID == nil {
		p.newID = uuid.NewString
	}

	tp := b.tracing
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	p.tracer = tp.Tracer(tracerName)

	// -------- TRANSPORT --------
	p.client = transport.New(transport.Config{
		Timeout:         cfg.API.RequestTimeout,
		MaxConnsPerHost: cfg.API.MaxConnsPerHost,
		Breaker: transport.BreakerConfig{
			Enabled:      cfg.Breaker.Enabled,
			Name:         base.Host,
			MaxRequests:  cfg.Breaker.MaxRequests,
			Interval:     cfg.Breaker.Interval,
			Timeout:      cfg.Breaker.Timeout,
			FailureRatio: cfg.Breaker.FailureRatio,
			MinRequests:  cfg.Breaker.MinRequests,
		},
	}, b.transport, logger)

	// -------- EVENTS --------
	p.subs = newSubscribers(b.sink)
	p.events = newEventDispatcher(cfg.Events, p.subs)

	p.dispatchDeps = p.newDispatchDeps()

	b.built = true
	return p, nil
}
