package authpipe

import (
	"testing"
	"time"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.API.BaseURL = "https://api.example.com/api/"
	return cfg
}

func TestDefaultConfigNeedsBaseURL(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without BaseURL to be invalid")
	}

	cfg = validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if cfg.Token.GuardWindow != 5*time.Minute {
		t.Fatalf("expected 5m guard window, got %v", cfg.Token.GuardWindow)
	}
	if cfg.Teardown.RedirectDelay != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s redirect delay, got %v", cfg.Teardown.RedirectDelay)
	}
	if cfg.Refresh.ProactiveInterval != 50*time.Minute {
		t.Fatalf("expected 50m proactive interval, got %v", cfg.Refresh.ProactiveInterval)
	}
}

func TestDefaultConfigIsolatesSlices(t *testing.T) {
	a := DefaultConfig()
	a.API.ExemptPaths[0] = "mutated/"

	b := DefaultConfig()
	if b.API.ExemptPaths[0] == "mutated/" {
		t.Fatal("DefaultConfig must not share ExemptPaths")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults",
			mutate:    func(*Config) {},
			wantValid: true,
		},
		{
			name: "relative base url",
			mutate: func(c *Config) {
				c.API.BaseURL = "/api/"
			},
			wantValid: false,
		},
		{
			name: "ftp base url",
			mutate: func(c *Config) {
				c.API.BaseURL = "ftp://api.example.com/"
			},
			wantValid: false,
		},
		{
			name: "negative guard window",
			mutate: func(c *Config) {
				c.Token.GuardWindow = -time.Second
			},
			wantValid: false,
		},
		{
			name: "zero refresh timeout",
			mutate: func(c *Config) {
				c.Refresh.Timeout = 0
			},
			wantValid: false,
		},
		{
			name: "zero proactive interval",
			mutate: func(c *Config) {
				c.Refresh.ProactiveInterval = 0
			},
			wantValid: false,
		},
		{
			name: "pacing without burst",
			mutate: func(c *Config) {
				c.Refresh.MinInterval = time.Second
				c.Refresh.Burst = 0
			},
			wantValid: false,
		},
		{
			name: "zero request timeout",
			mutate: func(c *Config) {
				c.API.RequestTimeout = 0
			},
			wantValid: false,
		},
		{
			name: "unknown forbidden policy",
			mutate: func(c *Config) {
				c.API.ForbiddenPolicy = "ignore"
			},
			wantValid: false,
		},
		{
			name: "surface forbidden policy",
			mutate: func(c *Config) {
				c.API.ForbiddenPolicy = ForbiddenSurface
			},
			wantValid: true,
		},
		{
			name: "missing exchange path",
			mutate: func(c *Config) {
				c.API.ExchangePath = ""
			},
			wantValid: false,
		},
		{
			name: "blank exempt entry",
			mutate: func(c *Config) {
				c.API.ExemptPaths = []string{"auth/login/", "  "}
			},
			wantValid: false,
		},
		{
			name: "login path without slash",
			mutate: func(c *Config) {
				c.Teardown.LoginPath = "login"
			},
			wantValid: false,
		},
		{
			name: "zero redirect delay",
			mutate: func(c *Config) {
				c.Teardown.RedirectDelay = 0
			},
			wantValid: true,
		},
		{
			name: "negative event buffer",
			mutate: func(c *Config) {
				c.Events.BufferSize = -1
			},
			wantValid: false,
		},
		{
			name: "histograms without metrics",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "breaker ratio out of range",
			mutate: func(c *Config) {
				c.Breaker.Enabled = true
				c.Breaker.FailureRatio = 1.5
			},
			wantValid: false,
		},
		{
			name: "breaker enabled valid",
			mutate: func(c *Config) {
				c.Breaker.Enabled = true
			},
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("AUTHPIPE_API_BASE_URL", "https://venti.example.com/api/")
	t.Setenv("AUTHPIPE_TOKEN_GUARD_WINDOW", "2m")
	t.Setenv("AUTHPIPE_API_EXEMPT_PATHS", "/auth/login/, public/")
	t.Setenv("AUTHPIPE_API_FORBIDDEN_POLICY", "surface")
	t.Setenv("AUTHPIPE_TEARDOWN_REDIRECT_DELAY", "250ms")
	t.Setenv("AUTHPIPE_STORAGE_REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("AUTHPIPE_BREAKER_ENABLED", "true")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.API.BaseURL != "https://venti.example.com/api/" {
		t.Fatalf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.Token.GuardWindow != 2*time.Minute {
		t.Fatalf("unexpected guard window %v", cfg.Token.GuardWindow)
	}
	if len(cfg.API.ExemptPaths) != 2 || cfg.API.ExemptPaths[0] != "auth/login/" || cfg.API.ExemptPaths[1] != "public/" {
		t.Fatalf("unexpected exempt paths %v", cfg.API.ExemptPaths)
	}
	if cfg.API.ForbiddenPolicy != ForbiddenSurface {
		t.Fatalf("unexpected forbidden policy %q", cfg.API.ForbiddenPolicy)
	}
	if cfg.Teardown.RedirectDelay != 250*time.Millisecond {
		t.Fatalf("unexpected redirect delay %v", cfg.Teardown.RedirectDelay)
	}
	if cfg.Storage.RedisAddr != "127.0.0.1:6379" || !cfg.Breaker.Enabled {
		t.Fatalf("unexpected storage/breaker config %+v %+v", cfg.Storage, cfg.Breaker)
	}
	if cfg.Refresh.ProactiveInterval != 50*time.Minute {
		t.Fatalf("unset variables must keep defaults, got %v", cfg.Refresh.ProactiveInterval)
	}
}

func TestLoadConfigFromEnvRejectsBadDuration(t *testing.T) {
	t.Setenv("AUTHPIPE_REFRESH_TIMEOUT", "soon")
	if _, err := LoadConfigFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/auth/login/":       "auth/login/",
		"auth/login/?next=x": "auth/login/",
		"//feed/#top":        "feed/",
		"":                   "",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
