package authpipe

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// EnvPrefix prefixes every variable read by [LoadConfigFromEnv].
const EnvPrefix = "AUTHPIPE_"

// Config holds every pipeline setting. Build validates it; the zero value is not usable,
// start from [DefaultConfig].
type Config struct {
	Token    TokenConfig    `envPrefix:"TOKEN_"`
	Refresh  RefreshConfig  `envPrefix:"REFRESH_"`
	API      APIConfig      `envPrefix:"API_"`
	Teardown TeardownConfig `envPrefix:"TEARDOWN_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Events   EventsConfig   `envPrefix:"EVENTS_"`
	Metrics  MetricsConfig  `envPrefix:"METRICS_"`
	Breaker  BreakerConfig  `envPrefix:"BREAKER_"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls how cached credentials are classified.
type TokenConfig struct {
	// GuardWindow is the margin before exp inside which a cached token is refreshed.
	GuardWindow time.Duration `env:"GUARD_WINDOW"`
	// ExpiringSoonWindow drives IsTokenExpiringSoon.
	ExpiringSoonWindow time.Duration `env:"EXPIRING_SOON_WINDOW"`
}

/*
====================================
REFRESH CONFIG
====================================
*/

// RefreshConfig controls identity-provider refresh calls.
type RefreshConfig struct {
	// Timeout bounds the shared refresh call, independent of any caller's context.
	Timeout time.Duration `env:"TIMEOUT"`
	// ProactiveInterval is the period of the background refresh scheduler.
	ProactiveInterval time.Duration `env:"PROACTIVE_INTERVAL"`
	// AutoStartOnSignIn starts the scheduler after a successful SignIn.
	AutoStartOnSignIn bool `env:"AUTO_START"`
	// MinInterval paces provider calls; 0 disables pacing.
	MinInterval time.Duration `env:"MIN_INTERVAL"`
	Burst       int           `env:"BURST"`
}

/*
====================================
API CONFIG
====================================
*/

// ForbiddenPolicy selects how a 403 response is handled.
type ForbiddenPolicy string

const (
	// ForbiddenTeardown ends the session on 403.
	ForbiddenTeardown ForbiddenPolicy = "teardown"
	// ForbiddenSurface returns the 403 to the caller and keeps the session.
	ForbiddenSurface ForbiddenPolicy = "surface"
)

// APIConfig describes the protected backend.
type APIConfig struct {
	BaseURL        string        `env:"BASE_URL"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT"`
	// ExemptPaths are dispatched without a credential and bypass auth recovery.
	ExemptPaths []string `env:"EXEMPT_PATHS" envSeparator:","`
	// ExchangePath receives the provider credential at sign-in.
	ExchangePath string `env:"EXCHANGE_PATH"`
	LogoutPath   string `env:"LOGOUT_PATH"`
	// UserPath returns the signed-in backend user.
	UserPath         string          `env:"USER_PATH"`
	ForbiddenPolicy  ForbiddenPolicy `env:"FORBIDDEN_POLICY"`
	RefreshOnTimeout bool            `env:"REFRESH_ON_TIMEOUT"`
	MaxConnsPerHost  int             `env:"MAX_CONNS_PER_HOST"`
	UserAgent        string          `env:"USER_AGENT"`
}

/*
====================================
TEARDOWN CONFIG
====================================
*/

// TeardownConfig controls session teardown.
type TeardownConfig struct {
	LoginPath string `env:"LOGIN_PATH"`
	// RedirectDelay separates the loading indicator from the navigation to LoginPath.
	RedirectDelay time.Duration `env:"REDIRECT_DELAY"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig selects the storage backend when none is injected.
type StorageConfig struct {
	// RedisAddr selects the Redis backend; empty means in-memory.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB"`
	RedisPrefix   string        `env:"REDIS_PREFIX"`
	TTL           time.Duration `env:"TTL"`
}

/*
====================================
EVENTS CONFIG
====================================
*/

// EventsConfig controls auth-state event delivery.
type EventsConfig struct {
	// BufferSize > 0 delivers events from a background goroutine; 0 delivers inline.
	BufferSize int  `env:"BUFFER_SIZE"`
	DropIfFull bool `env:"DROP_IF_FULL"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool `env:"ENABLED"`
	EnableLatencyHistograms bool `env:"LATENCY_HISTOGRAMS"`
}

/*
====================================
BREAKER CONFIG
====================================
*/

// BreakerConfig configures the optional circuit breaker in front of the API.
type BreakerConfig struct {
	Enabled      bool          `env:"ENABLED"`
	MaxRequests  uint32        `env:"MAX_REQUESTS"`
	Interval     time.Duration `env:"INTERVAL"`
	Timeout      time.Duration `env:"TIMEOUT"`
	FailureRatio float64       `env:"FAILURE_RATIO"`
	MinRequests  uint32        `env:"MIN_REQUESTS"`
}

// DefaultExemptPaths are the auth endpoints that never carry a credential.
var DefaultExemptPaths = []string{
	"auth/login/",
	"auth/register/",
	"auth/refresh/",
	"auth/verify-email/",
	"auth/reset-password/",
	"auth/firebase-login/",
}

// DefaultConfig returns the production defaults. BaseURL must still be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			GuardWindow:        5 * time.Minute,
			ExpiringSoonWindow: 10 * time.Minute,
		},
		Refresh: RefreshConfig{
			Timeout:           15 * time.Second,
			ProactiveInterval: 50 * time.Minute,
			AutoStartOnSignIn: true,
			Burst:             1,
		},
		API: APIConfig{
			RequestTimeout:  10 * time.Second,
			ExemptPaths:     append([]string(nil), DefaultExemptPaths...),
			ExchangePath:    "auth/firebase-login/",
			LogoutPath:      "auth/logout/",
			UserPath:        "auth/user/",
			ForbiddenPolicy: ForbiddenTeardown,
			MaxConnsPerHost: 100,
		},
		Teardown: TeardownConfig{
			LoginPath:     "/login",
			RedirectDelay: 1500 * time.Millisecond,
		},
		Storage: StorageConfig{
			RedisPrefix: "ap",
		},
		Events: EventsConfig{
			BufferSize: 0,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Breaker: BreakerConfig{
			Enabled:      false,
			MaxRequests:  1,
			Timeout:      30 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  5,
		},
	}
}

func cloneConfig(c Config) Config {
	out := c
	out.API.ExemptPaths = append([]string(nil), c.API.ExemptPaths...)
	return out
}

// LoadConfigFromEnv overlays AUTHPIPE_* environment variables on [DefaultConfig].
// Unset variables keep their defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := defaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}
	cfg.API.ExemptPaths = normalizePaths(cfg.API.ExemptPaths)
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.GuardWindow < 0 {
		return errors.New("Token GuardWindow must be >= 0")
	}
	if c.Token.ExpiringSoonWindow < 0 {
		return errors.New("Token ExpiringSoonWindow must be >= 0")
	}

	// Refresh
	if c.Refresh.Timeout <= 0 {
		return errors.New("Refresh Timeout must be > 0")
	}
	if c.Refresh.ProactiveInterval <= 0 {
		return errors.New("Refresh ProactiveInterval must be > 0")
	}
	if c.Refresh.MinInterval < 0 {
		return errors.New("Refresh MinInterval must be >= 0")
	}
	if c.Refresh.MinInterval > 0 && c.Refresh.Burst < 1 {
		return errors.New("Refresh Burst must be >= 1 when MinInterval is set")
	}

	// API
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return errors.New("API BaseURL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("API BaseURL must be an absolute URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("API BaseURL scheme must be http or https")
	}
	if c.API.RequestTimeout <= 0 {
		return errors.New("API RequestTimeout must be > 0")
	}
	if c.API.ExchangePath == "" {
		return errors.New("API ExchangePath is required")
	}
	if c.API.ForbiddenPolicy != ForbiddenTeardown && c.API.ForbiddenPolicy != ForbiddenSurface {
		return errors.New("API ForbiddenPolicy must be 'teardown' or 'surface'")
	}
	if c.API.MaxConnsPerHost < 0 {
		return errors.New("API MaxConnsPerHost must be >= 0")
	}
	for _, p := range c.API.ExemptPaths {
		if strings.TrimSpace(p) == "" {
			return errors.New("API ExemptPaths must not contain empty entries")
		}
	}

	// Teardown
	if !strings.HasPrefix(c.Teardown.LoginPath, "/") {
		return errors.New("Teardown LoginPath must start with '/'")
	}
	if c.Teardown.RedirectDelay < 0 {
		return errors.New("Teardown RedirectDelay must be >= 0")
	}

	// Storage
	if c.Storage.TTL < 0 {
		return errors.New("Storage TTL must be >= 0")
	}
	if c.Storage.RedisDB < 0 {
		return errors.New("Storage RedisDB must be >= 0")
	}

	// Events
	if c.Events.BufferSize < 0 {
		return errors.New("Events BufferSize must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Breaker
	if c.Breaker.Enabled {
		if c.Breaker.MaxRequests < 1 {
			return errors.New("Breaker MaxRequests must be >= 1")
		}
		if c.Breaker.Timeout <= 0 {
			return errors.New("Breaker Timeout must be > 0")
		}
		if c.Breaker.FailureRatio <= 0 || c.Breaker.FailureRatio > 1 {
			return errors.New("Breaker FailureRatio must be in (0, 1]")
		}
	}

	return nil
}

// normalizePaths trims whitespace and the leading slash so paths compare relative
// to the base URL.
func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, normalizePath(p))
	}
	return out
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return strings.TrimLeft(p, "/")
}
