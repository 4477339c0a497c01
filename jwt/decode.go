package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned when the credential is not three base64url segments
	// with a JSON payload.
	ErrMalformed = errors.New("malformed credential")
	// ErrMissingExpiry is returned when the payload carries no numeric exp claim.
	ErrMissingExpiry = errors.New("credential has no exp claim")
)

// Claims is the subset of the identity provider's payload the pipeline reads.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Payload is the decoded validity window of a credential.
type Payload struct {
	Subject   string
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Decode extracts the validity window from raw without verifying its signature.
func Decode(raw string) (Payload, error) {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return Payload{}, ErrMalformed
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return Payload{}, errors.Join(ErrMalformed, err)
	}
	if claims.ExpiresAt == nil {
		return Payload{}, ErrMissingExpiry
	}

	p := Payload{
		Subject:   claims.Subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if p.Subject == "" {
		p.Subject = claims.UserID
	}
	if claims.IssuedAt != nil {
		p.IssuedAt = claims.IssuedAt.Time
	}
	return p, nil
}
