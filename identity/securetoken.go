package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authpipe"
	"go.uber.org/zap"
)

// DefaultSecureTokenEndpoint is the public secure-token refresh endpoint.
const DefaultSecureTokenEndpoint = "https://securetoken.googleapis.com/v1/token"

// ErrRefreshRejected is returned when the endpoint refuses the refresh token.
var ErrRefreshRejected = errors.New("refresh token rejected")

// SecureTokenConfig configures [SecureToken].
type SecureTokenConfig struct {
	Endpoint string
	APIKey   string
	// GuardWindow is the margin before exp inside which a cached ID token is not reused.
	GuardWindow time.Duration
	Timeout     time.Duration
}

// SecureToken exchanges a long-lived refresh token for short-lived ID tokens.
type SecureToken struct {
	cfg    SecureTokenConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	issueMu sync.Mutex

	mu           sync.Mutex
	identity     *authpipe.Identity
	refreshToken string
	idToken      string
	expiresAt    time.Time
}

// NewSecureToken validates cfg. A nil client gets one with cfg.Timeout.
func NewSecureToken(cfg SecureTokenConfig, client *http.Client, logger *zap.Logger) (*SecureToken, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSecureTokenEndpoint
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid secure token endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("secure token API key required")
	}
	if cfg.GuardWindow < 0 {
		return nil, errors.New("secure token GuardWindow must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecureToken{cfg: cfg, client: client, logger: logger, now: time.Now}, nil
}

// SetSession signs id in with its refresh token.
func (s *SecureToken) SetSession(id authpipe.Identity, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
	s.refreshToken = refreshToken
	s.idToken = ""
	s.expiresAt = time.Time{}
}

// SignOut forgets the refresh token and cached id token.
func (s *SecureToken) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	return nil
}

// CurrentIdentity returns the identity set by SetSession, or nil after SignOut.
func (s *SecureToken) CurrentIdentity(context.Context) *authpipe.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// IssueCredential returns the cached ID token unless forceRefresh is set or it is
// inside the guard window, and otherwise redeems the refresh token.
func (s *SecureToken) IssueCredential(ctx context.Context, id *authpipe.Identity, forceRefresh bool) (string, error) {
	s.issueMu.Lock()
	defer s.issueMu.Unlock()

	s.mu.Lock()
	if s.identity == nil || id == nil || id.UID != s.identity.UID {
		s.mu.Unlock()
		return "", ErrNotSignedIn
	}
	if !forceRefresh && s.idToken != "" && s.expiresAt.After(s.now().Add(s.cfg.GuardWindow)) {
		tok := s.idToken
		s.mu.Unlock()
		return tok, nil
	}
	refreshToken := s.refreshToken
	s.mu.Unlock()

	res, err := s.redeem(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrRefreshRejected) {
			s.mu.Lock()
			s.clearLocked()
			s.mu.Unlock()
		}
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return "", ErrNotSignedIn
	}
	s.idToken = res.IDToken
	s.expiresAt = s.now().Add(time.Duration(res.ExpiresIn) * time.Second)
	if res.RefreshToken != "" && res.RefreshToken != s.refreshToken {
		s.refreshToken = res.RefreshToken
		s.logger.Debug("refresh token rotated", zap.String("uid", s.identity.UID))
	}
	return res.IDToken, nil
}

func (s *SecureToken) clearLocked() {
	s.identity = nil
	s.refreshToken = ""
	s.idToken = ""
	s.expiresAt = time.Time{}
}

type secureTokenResponse struct {
	IDToken      string  `json:"id_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    seconds `json:"expires_in"`
	UserID       string  `json:"user_id"`
}

type secureTokenError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// seconds accepts both "3600" and 3600.
type seconds int64

func (d *seconds) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(strings.Trim(string(b), `"`), 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*d = seconds(v)
	return nil
}

func (s *SecureToken) redeem(ctx context.Context, refreshToken string) (secureTokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := s.cfg.Endpoint + "?key=" + url.QueryEscape(s.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return secureTokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return secureTokenResponse{}, fmt.Errorf("secure token request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return secureTokenResponse{}, fmt.Errorf("read secure token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e secureTokenError
		_ = json.Unmarshal(body, &e)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
			return secureTokenResponse{}, fmt.Errorf("%w: %s", ErrRefreshRejected, e.Error.Message)
		}
		return secureTokenResponse{}, fmt.Errorf("secure token endpoint returned %d: %s", resp.StatusCode, e.Error.Message)
	}

	var out secureTokenResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return secureTokenResponse{}, fmt.Errorf("decode secure token response: %w", err)
	}
	if out.IDToken == "" {
		return secureTokenResponse{}, errors.New("secure token response has no id_token")
	}
	return out, nil
}
