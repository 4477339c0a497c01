package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssuerConfig configures an [Issuer].
type IssuerConfig struct {
	TTL      time.Duration
	Secret   []byte
	Issuer   string
	Audience string
	KeyID    string
	Leeway   time.Duration
}

// Issuer mints and verifies HS256 credentials shaped like the identity provider's
// ID tokens. It backs the in-process identity provider and test APIs.
type Issuer struct {
	config IssuerConfig
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("hs256 requires secret")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)
	cfg.Secret = secret
	return &Issuer{config: cfg}, nil
}

// TTL reports the lifetime of minted credentials.
func (i *Issuer) TTL() time.Duration {
	return i.config.TTL
}

// Issue mints a credential for uid valid from now for the configured TTL.
func (i *Issuer) Issue(uid, email string) (string, error) {
	return i.IssueAt(uid, email, time.Now())
}

// IssueAt mints a credential whose iat is issuedAt.
func (i *Issuer) IssueAt(uid, email string, issuedAt time.Time) (string, error) {
	if uid == "" {
		return "", errors.New("uid required")
	}

	claims := Claims{
		UserID: uid,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(i.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    i.config.Issuer,
		},
	}
	if i.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.config.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if i.config.KeyID != "" {
		token.Header["kid"] = i.config.KeyID
	}
	return token.SignedString(i.config.Secret)
}

// Verify checks the signature and registered claims of raw.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		if i.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != i.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return i.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

// VerifySubject verifies raw and returns its subject.
func (i *Issuer) VerifySubject(raw string) (string, error) {
	claims, err := i.Verify(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}
