package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/identity"
	"github.com/MrEthical07/authpipe/jwt"
	promexport "github.com/MrEthical07/authpipe/metrics/export/prometheus"
	"github.com/MrEthical07/authpipe/middleware"
	"github.com/MrEthical07/authpipe/storage"
	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"
)

func main() {
	var (
		ops          = flag.Int("ops", 20000, "requests per phase")
		concurrency  = flag.Int("concurrency", 64, "number of concurrent workers")
		bursts       = flag.Int("bursts", 20, "expired-credential bursts")
		reject       = flag.Float64("reject", 0.01, "fraction of first attempts answered with 401")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix       = flag.String("prefix", "ap", "storage key prefix")
		metricsAddr  = flag.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
		debugLogging = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	if *ops <= 0 || *concurrency <= 0 || *bursts < 0 || *reject < 0 || *reject >= 1 {
		fmt.Fprintln(os.Stderr, "ops and concurrency must be > 0, bursts >= 0, 0 <= reject < 1")
		os.Exit(2)
	}

	logger := zap.NewNop()
	if *debugLogging {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: %v\n", err)
			os.Exit(1)
		}
		logger = l
	}
	defer func() { _ = logger.Sync() }()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		defer mr.Close()
		addr = mr.Addr()
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		fmt.Printf("using redis at %s\n", addr)
	}

	issuerCfg := jwt.IssuerConfig{TTL: time.Hour, Secret: []byte("authpipe-loadtest")}
	issuer, err := jwt.NewIssuer(issuerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issuer: %v\n", err)
		os.Exit(1)
	}
	provider, err := identity.NewLocal(issuerCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		os.Exit(1)
	}
	provider.SignIn("loadtest-user", "loadtest@example.com")

	api := newAPI(issuer, *reject)
	defer api.Close()

	cfg := authpipe.DefaultConfig()
	cfg.API.BaseURL = api.URL + "/api/"
	cfg.API.MaxConnsPerHost = *concurrency
	cfg.Storage.RedisAddr = addr
	cfg.Storage.RedisPrefix = *prefix
	cfg.Refresh.AutoStartOnSignIn = false
	cfg.Teardown.RedirectDelay = 0

	p, err := authpipe.New().
		WithConfig(cfg).
		WithIdentityProvider(provider).
		WithLogger(logger).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = p.Close() }()

	if *metricsAddr != "" {
		ln, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "metrics listener: %v\n", err)
			os.Exit(1)
		}
		srv := &http.Server{Handler: promexport.Handler(p), ReadHeaderTimeout: 5 * time.Second}
		go func() { _ = srv.Serve(ln) }()
		defer func() { _ = srv.Close() }()
		fmt.Printf("serving metrics at http://%s/\n", ln.Addr())
	}

	ctx := context.Background()
	if _, err := p.SignIn(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sign in: %v\n", err)
		os.Exit(1)
	}

	dispatchStats := runPhase(*ops, *concurrency, func(int) error {
		_, err := p.Dispatch(ctx, authpipe.Request{Method: http.MethodGet, Path: "feed/"})
		return err
	})

	client := &http.Client{Transport: middleware.NewTransport(p, nil)}
	feedURL := p.BaseURL().JoinPath("feed/").String()
	roundTripStats := runPhase(*ops, *concurrency, func(int) error {
		resp, err := client.Get(feedURL)
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	})

	burstStats, refreshes := runExpiryBursts(ctx, p, provider, addr, *prefix, *bursts, *concurrency)

	fmt.Println("---- results ----")
	printStats("dispatch", dispatchStats)
	printStats("roundtrip", roundTripStats)
	printStats("expiry-burst", burstStats)
	fmt.Printf("expiry bursts=%d provider refreshes=%d\n", *bursts, refreshes)

	snap := p.MetricsSnapshot()
	fmt.Printf("refresh success=%d shared=%d failure=%d retried=%d teardown=%d\n",
		snap.Counters[authpipe.MetricRefreshSuccess],
		snap.Counters[authpipe.MetricRefreshShared],
		snap.Counters[authpipe.MetricRefreshFailure],
		snap.Counters[authpipe.MetricDispatchRetried],
		snap.Counters[authpipe.MetricTeardown],
	)
}

// newAPI serves /api/feed/ behind bearer verification. A fraction of first
// attempts, keyed by X-Request-ID, are rejected with 401 to drive refreshes.
func newAPI(issuer *jwt.Issuer, reject float64) *httptest.Server {
	var (
		seen sync.Map
		mu   sync.Mutex
		rng  = rand.New(rand.NewSource(time.Now().UnixNano()))
	)
	feed := middleware.RequireBearer(issuer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, retried := seen.LoadOrStore(id, struct{}{}); !retried && reject > 0 {
			mu.Lock()
			drop := rng.Float64() < reject
			mu.Unlock()
			if drop {
				http.Error(w, `{"detail":"token expired"}`, http.StatusUnauthorized)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))

	mux := http.NewServeMux()
	mux.Handle("GET /api/feed/", feed)
	mux.HandleFunc("POST /api/auth/firebase-login/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user":{"id":1,"username":"loadtest-user"}}`))
	})
	mux.HandleFunc("POST /api/auth/logout/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return httptest.NewServer(mux)
}

// runExpiryBursts repeatedly stores an expired credential and fires one request
// per worker at once. Each burst should cost a single provider call.
func runExpiryBursts(ctx context.Context, p *authpipe.Pipeline, provider *identity.Local, addr, prefix string, bursts, concurrency int) (phaseStats, int64) {
	client := redisClient(addr)
	defer func() { _ = client.Close() }()
	store := storage.NewRedis(client, prefix, 0)

	var (
		latencies []time.Duration
		failures  int64
		mu        sync.Mutex
	)
	before := provider.Calls()
	start := time.Now()
	for b := 0; b < bursts; b++ {
		expired := time.Now().Add(-2 * time.Hour)
		provider.SetClock(func() time.Time { return expired })
		raw, err := provider.Mint()
		provider.SetClock(time.Now)
		if err != nil || store.Set(ctx, storage.CredentialKey, raw) != nil {
			failures++
			continue
		}

		var wg sync.WaitGroup
		for w := 0; w < concurrency; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t0 := time.Now()
				_, err := p.Dispatch(ctx, authpipe.Request{Method: http.MethodGet, Path: "feed/"})
				d := time.Since(t0)
				mu.Lock()
				latencies = append(latencies, d)
				if err != nil {
					failures++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	}
	return computeStats(time.Since(start), latencies, failures), provider.Calls() - before
}

func runPhase(ops, concurrency int, op func(i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
