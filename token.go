package authpipe

import (
	"time"

	"github.com/MrEthical07/authpipe/jwt"
)

// TokenState classifies a token against the current time and guard window.
type TokenState int

const (
	// TokenFresh means exp > now + guard. Used without contacting the provider.
	TokenFresh TokenState = iota
	// TokenStaleSoon means now < exp <= now + guard. Refreshed before use.
	TokenStaleSoon
	// TokenExpired means exp <= now, or the credential could not be decoded.
	TokenExpired
)

// String returns the state name.
func (s TokenState) String() string {
	switch s {
	case TokenFresh:
		return "fresh"
	case TokenStaleSoon:
		return "stale_soon"
	default:
		return "expired"
	}
}

// Token is a bearer credential with its decoded validity window.
type Token struct {
	Raw       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ParseToken decodes raw without verifying its signature.
func ParseToken(raw string) (Token, error) {
	p, err := jwt.Decode(raw)
	if err != nil {
		return Token{}, err
	}
	return Token{Raw: raw, IssuedAt: p.IssuedAt, ExpiresAt: p.ExpiresAt}, nil
}

// State classifies t at now with the given guard window.
func (t Token) State(now time.Time, guard time.Duration) TokenState {
	if t.Raw == "" || t.ExpiresAt.IsZero() || !t.ExpiresAt.After(now) {
		return TokenExpired
	}
	if t.ExpiresAt.After(now.Add(guard)) {
		return TokenFresh
	}
	return TokenStaleSoon
}

// IsZero reports whether t holds no credential.
func (t Token) IsZero() bool {
	return t.Raw == ""
}

// String never includes the credential itself.
func (t Token) String() string {
	if t.IsZero() {
		return "Token(none)"
	}
	return "Token(exp=" + t.ExpiresAt.UTC().Format(time.RFC3339) + ")"
}
