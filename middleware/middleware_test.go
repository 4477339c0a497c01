package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/identity"
	"github.com/MrEthical07/authpipe/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var secret = []byte("middleware-secret")

func newIssuer(t *testing.T) *jwt.Issuer {
	t.Helper()
	iss, err := jwt.NewIssuer(jwt.IssuerConfig{TTL: time.Hour, Secret: secret})
	require.NoError(t, err)
	return iss
}

func TestRequireBearer(t *testing.T) {
	iss := newIssuer(t)
	h := RequireBearer(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, ok := SubjectFromContext(r.Context())
		assert.True(t, ok)
		_, _ = io.WriteString(w, sub)
	}))

	tok, err := iss.Issue("u1", "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/users/me/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, "u1", rec.Body.String())
			}
		})
	}
}

func TestRequireBearer_NilVerifier(t *testing.T) {
	h := RequireBearer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransport_RoutesThroughPipeline(t *testing.T) {
	iss := newIssuer(t)
	var otherHits atomic.Int32

	mux := http.NewServeMux()
	mux.Handle("/api/users/me/", RequireBearer(iss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = io.WriteString(w, `{"id":1}`)
	})))
	mux.HandleFunc("/api/missing/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		otherHits.Add(1)
		assert.Empty(t, r.Header.Get("Authorization"))
	})
	api := httptest.NewServer(mux)
	defer api.Close()

	provider, err := identity.NewLocal(jwt.IssuerConfig{TTL: time.Hour, Secret: secret})
	require.NoError(t, err)
	provider.SignIn("u1", "u1@venti.test")

	p, err := authpipe.New().
		WithBaseURL(api.URL + "/api/").
		WithIdentityProvider(provider).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)
	defer p.Close()

	client := &http.Client{Transport: NewTransport(p, nil)}

	resp, err := client.Get(api.URL + "/api/users/me/?page=1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":1}`, string(body))

	resp, err = client.Get(api.URL + "/api/missing/")
	require.NoError(t, err, "non-auth error statuses come back as responses")
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = client.Get(api.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.EqualValues(t, 1, otherHits.Load())
}

func TestTransport_AuthFailureIsRoundTripError(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	provider, err := identity.NewLocal(jwt.IssuerConfig{TTL: time.Hour, Secret: secret})
	require.NoError(t, err)
	provider.SignIn("u1", "")

	cfg := authpipe.DefaultConfig()
	cfg.API.BaseURL = api.URL + "/api/"
	cfg.Teardown.RedirectDelay = 0
	p, err := authpipe.New().WithConfig(cfg).WithIdentityProvider(provider).Build()
	require.NoError(t, err)
	defer p.Close()

	client := &http.Client{Transport: NewTransport(p, nil)}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, api.URL+"/api/posts/", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.ErrorIs(t, err, authpipe.ErrSessionTerminated)
	kind, ok := authpipe.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, authpipe.KindAuthExpired, kind)
}
