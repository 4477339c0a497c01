package authpipe

import (
	"errors"
	"fmt"
)

var (
	// ErrNoIdentity is returned when a refresh or sign-in is requested with no signed-in identity.
	ErrNoIdentity = errors.New("no signed-in identity")
	// ErrNoCredential is returned when a protected request has no usable credential.
	ErrNoCredential = errors.New("no valid credential")
	// ErrRefreshFailed wraps identity-provider failures during a refresh.
	ErrRefreshFailed = errors.New("credential refresh failed")
	// ErrRefreshThrottled is returned when refresh pacing outlives the caller's wait.
	ErrRefreshThrottled = errors.New("credential refresh throttled")
	// ErrSessionTerminated marks failures that tore the session down.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrForbidden is returned for a 403 response.
	ErrForbidden = errors.New("forbidden")
	// ErrUnexpectedStatus is returned for non-auth 4xx and all 5xx responses.
	ErrUnexpectedStatus = errors.New("unexpected response status")
	// ErrRequestTimeout is returned when an attempt exceeds the request timeout.
	ErrRequestTimeout = errors.New("request timed out")
	// ErrServiceUnavailable is returned when the circuit breaker rejects a request.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrExchangeFailed is returned when the backend rejects the sign-in credential exchange.
	ErrExchangeFailed = errors.New("credential exchange failed")
	// ErrNoUserSnapshot is returned when no user snapshot is stored.
	ErrNoUserSnapshot = errors.New("no stored user")
	// ErrInvalidRequest is returned for requests the pipeline cannot build.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPipelineClosed is returned by operations on a closed pipeline.
	ErrPipelineClosed = errors.New("pipeline closed")
)

// ErrorKind is the closed set of request failure classes.
type ErrorKind int

const (
	// KindTimeout means the attempt exceeded the request timeout. Never retried.
	KindTimeout ErrorKind = iota + 1
	// KindNetwork means the request did not complete for a reason other than timeout.
	KindNetwork
	// KindHTTP means the server answered with a non-auth error status.
	KindHTTP
	// KindAuthExpired means the credential was missing or could not be recovered.
	KindAuthExpired
	// KindAuthDenied means the server refused the authenticated identity (403).
	KindAuthDenied
	// KindUnavailable means the circuit breaker rejected the request without sending it.
	KindUnavailable
)

// String returns the kind name used in logs and span attributes.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindHTTP:
		return "http"
	case KindAuthExpired:
		return "auth_expired"
	case KindAuthDenied:
		return "auth_denied"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// RequestError is the error returned by [Pipeline.Dispatch].
type RequestError struct {
	Kind      ErrorKind
	Method    string
	Path      string
	Status    int
	AttemptID string
	// Response is set for KindHTTP, KindAuthDenied and 401-driven KindAuthExpired failures.
	Response *Response
	Err      error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Method, e.Path, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a [RequestError] in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return 0, false
}

// IsAuthError reports whether err ended the session or was refused for auth reasons.
func IsAuthError(err error) bool {
	kind, ok := KindOf(err)
	return ok && (kind == KindAuthExpired || kind == KindAuthDenied)
}
