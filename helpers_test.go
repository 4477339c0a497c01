package authpipe_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/identity"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/MrEthical07/authpipe/storage"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const (
	testTTL   = time.Hour
	loginPath = "/login"
)

var testSecret = []byte("pipeline-test-secret")

type harness struct {
	provider *identity.Local
	issuer   *jwt.Issuer
	store    *storage.Memory
	nav      *authpipe.Location
	api      *httptest.Server
	spans    *tracetest.SpanRecorder
	events   *eventLog
	p        *authpipe.Pipeline
}

type harnessOption func(*authpipe.Config, *authpipe.Builder)

func withConfig(fn func(*authpipe.Config)) harnessOption {
	return func(c *authpipe.Config, _ *authpipe.Builder) { fn(c) }
}

func withTransport(rt http.RoundTripper) harnessOption {
	return func(_ *authpipe.Config, b *authpipe.Builder) { b.WithHTTPTransport(rt) }
}

func withLogger(l *zap.Logger) harnessOption {
	return func(_ *authpipe.Config, b *authpipe.Builder) { b.WithLogger(l) }
}

func newHarness(t testing.TB, handler http.Handler, opts ...harnessOption) *harness {
	t.Helper()

	provider, err := identity.NewLocal(jwt.IssuerConfig{TTL: testTTL, Secret: testSecret})
	require.NoError(t, err)
	issuer, err := jwt.NewIssuer(jwt.IssuerConfig{TTL: testTTL, Secret: testSecret})
	require.NoError(t, err)

	h := &harness{
		provider: provider,
		issuer:   issuer,
		store:    storage.NewMemory(),
		nav:      authpipe.NewLocation("/feed"),
		api:      httptest.NewServer(handler),
		spans:    tracetest.NewSpanRecorder(),
		events:   &eventLog{},
	}
	t.Cleanup(h.api.Close)

	cfg := authpipe.DefaultConfig()
	cfg.API.BaseURL = h.api.URL + "/api/"
	cfg.API.RequestTimeout = 2 * time.Second
	cfg.Teardown.RedirectDelay = 10 * time.Millisecond

	b := authpipe.New().WithLogger(zaptest.NewLogger(t))
	for _, opt := range opts {
		opt(&cfg, b)
	}

	p, err := b.WithConfig(cfg).
		WithIdentityProvider(provider).
		WithStorage(h.store).
		WithNavigator(h.nav).
		WithTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(h.spans))).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	h.p = p
	p.OnAuthStateChange(h.events.record)
	return h
}

// seed stores a credential for the signed-in identity expiring expiresIn from now.
func (h *harness) seed(t testing.TB, expiresIn time.Duration) string {
	t.Helper()
	iat := time.Now().Add(expiresIn - testTTL)
	h.provider.SetClock(func() time.Time { return iat })
	raw, err := h.provider.Mint()
	h.provider.SetClock(time.Now)
	require.NoError(t, err)
	require.NoError(t, h.store.Set(context.Background(), storage.CredentialKey, raw))
	return raw
}

func (h *harness) cached(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := h.store.Get(context.Background(), storage.CredentialKey)
	require.NoError(t, err)
	return v, ok
}

func (h *harness) metric(id authpipe.MetricID) uint64 {
	return h.p.MetricsSnapshot().Counters[id]
}

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

type eventLog struct {
	mu     sync.Mutex
	events []authpipe.AuthEvent
}

func (l *eventLog) record(e authpipe.AuthEvent) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) count(typ authpipe.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func (l *eventLog) types() []authpipe.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]authpipe.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func okHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

type recorded struct {
	method    string
	path      string
	query     string
	token     string
	requestID string
	body      string
}

// apiRecorder records every request and answers with respond, or 200 {} when unset.
type apiRecorder struct {
	mu      sync.Mutex
	reqs    []recorded
	respond func(n int, r recorded) (int, string)
}

func (a *apiRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recorded{
		method:    r.Method,
		path:      r.URL.Path,
		query:     r.URL.RawQuery,
		token:     bearer(r),
		requestID: r.Header.Get("X-Request-ID"),
		body:      string(body),
	}

	a.mu.Lock()
	n := len(a.reqs)
	a.reqs = append(a.reqs, rec)
	respond := a.respond
	a.mu.Unlock()

	status, payload := http.StatusOK, `{}`
	if respond != nil {
		status, payload = respond(n, rec)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func (a *apiRecorder) setRespond(fn func(n int, r recorded) (int, string)) {
	a.mu.Lock()
	a.respond = fn
	a.mu.Unlock()
}

func (a *apiRecorder) requests() []recorded {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]recorded(nil), a.reqs...)
}

func always(status int, body string) func(int, recorded) (int, string) {
	return func(int, recorded) (int, string) { return status, body }
}
