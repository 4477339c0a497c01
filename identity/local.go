package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authpipe"
	"github.com/MrEthical07/authpipe/jwt"
)

var (
	// ErrNotSignedIn is returned when issuance is requested for an identity that is not signed in.
	ErrNotSignedIn = errors.New("identity not signed in")
	// ErrRevoked is returned after Revoke until the next SignIn.
	ErrRevoked = errors.New("identity revoked")
)

// Local is an in-process identity provider.
type Local struct {
	issuer *jwt.Issuer

	mu       sync.Mutex
	current  *authpipe.Identity
	cached   string
	cachedAt time.Time
	revoked  bool
	failN    int
	failErr  error
	before   func(context.Context) error
	now      func() time.Time

	calls  atomic.Int64
	minted atomic.Int64
}

// NewLocal returns a provider minting credentials with cfg.
func NewLocal(cfg jwt.IssuerConfig) (*Local, error) {
	issuer, err := jwt.NewIssuer(cfg)
	if err != nil {
		return nil, err
	}
	return &Local{issuer: issuer, now: time.Now}, nil
}

// SignIn replaces the signed-in identity and clears revocation.
func (l *Local) SignIn(uid, email string) *authpipe.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = &authpipe.Identity{UID: uid, Email: email}
	l.cached = ""
	l.revoked = false
	id := *l.current
	return &id
}

// SignOut clears the signed-in identity.
func (l *Local) SignOut(context.Context) error {
	l.mu.Lock()
	l.current = nil
	l.cached = ""
	l.mu.Unlock()
	return nil
}

// Revoke makes every later issuance fail with ErrRevoked. The identity stays signed in.
func (l *Local) Revoke() {
	l.mu.Lock()
	l.revoked = true
	l.cached = ""
	l.mu.Unlock()
}

// FailNext makes the next n issuances fail with err.
func (l *Local) FailNext(n int, err error) {
	l.mu.Lock()
	l.failN = n
	l.failErr = err
	l.mu.Unlock()
}

// BeforeIssue installs fn to run at the start of every issuance, outside any lock.
// A non-nil error fails that issuance.
func (l *Local) BeforeIssue(fn func(context.Context) error) {
	l.mu.Lock()
	l.before = fn
	l.mu.Unlock()
}

// SetClock sets the clock used for iat, so tests can mint credentials near expiry.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.cached = ""
	l.mu.Unlock()
}

// Calls reports IssueCredential invocations.
func (l *Local) Calls() int64 {
	return l.calls.Load()
}

// Minted reports credentials actually minted.
func (l *Local) Minted() int64 {
	return l.minted.Load()
}

// Mint returns a credential for the signed-in identity without counting a call.
func (l *Local) Mint() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return "", ErrNotSignedIn
	}
	return l.issuer.IssueAt(l.current.UID, l.current.Email, l.now())
}

// CurrentIdentity returns the signed-in identity, or nil.
func (l *Local) CurrentIdentity(context.Context) *authpipe.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	id := *l.current
	return &id
}

// IssueCredential mints a credential for id. Without forceRefresh it returns the
// last credential while less than half of its lifetime has passed.
func (l *Local) IssueCredential(ctx context.Context, id *authpipe.Identity, forceRefresh bool) (string, error) {
	l.calls.Add(1)

	l.mu.Lock()
	before := l.before
	l.mu.Unlock()
	if before != nil {
		if err := before(ctx); err != nil {
			return "", err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current == nil || id == nil || id.UID != l.current.UID {
		return "", ErrNotSignedIn
	}
	if l.revoked {
		return "", ErrRevoked
	}
	if l.failN > 0 {
		l.failN--
		return "", l.failErr
	}

	now := l.now()
	if !forceRefresh && l.cached != "" && now.Sub(l.cachedAt) < l.issuer.TTL()/2 {
		return l.cached, nil
	}

	raw, err := l.issuer.IssueAt(l.current.UID, l.current.Email, now)
	if err != nil {
		return "", err
	}
	l.cached = raw
	l.cachedAt = now
	l.minted.Add(1)
	return raw, nil
}
