package flows

import (
	"context"
	"errors"
	"net/http"
)

// DispatchOutcome is the terminal state of one logical request.
type DispatchOutcome int

const (
	// DispatchDone means a response below 400 was received.
	DispatchDone DispatchOutcome = iota
	// DispatchFailed means an error is surfaced to the caller with no session side effect.
	DispatchFailed
	// DispatchTeardown means the session must be torn down.
	DispatchTeardown
)

// DispatchFailureKind classifies dispatch failures for root-level mapping.
type DispatchFailureKind int

// Dispatch failure kinds. Unauthorized, Refresh and NoCredential always come
// with DispatchTeardown; Forbidden does when the policy tears down.
const (
	DispatchFailureNone DispatchFailureKind = iota
	DispatchFailureNoCredential
	DispatchFailureTimeout
	DispatchFailureNetwork
	DispatchFailureUnavailable
	DispatchFailureStatus
	DispatchFailureUnauthorized
	DispatchFailureRefresh
	DispatchFailureForbidden
)

// RefreshReason tells the refresh hook why a refresh was requested.
type RefreshReason int

// Refresh reasons.
const (
	RefreshReasonUnauthorized RefreshReason = iota
	RefreshReasonNetwork
)

// String returns the reason as a log field value.
func (r RefreshReason) String() string {
	switch r {
	case RefreshReasonUnauthorized:
		return "unauthorized"
	case RefreshReasonNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// DispatchResult carries the final state of a logical request.
type DispatchResult struct {
	Outcome   DispatchOutcome
	Failure   DispatchFailureKind
	Status    int
	Err       error
	AttemptID string
	Attempts  int
	Retried   bool
	Exempt    bool
}

// DispatchDeps captures dispatch flow dependencies.
type DispatchDeps struct {
	NewAttemptID func() string
	IsExempt     func(path string) bool
	// OnLoginSurface reports whether the navigation surface is on the login path.
	OnLoginSurface func() bool
	ValidToken     func(ctx context.Context) (string, bool)
	Refresh        func(ctx context.Context, reason RefreshReason) (string, error)
	// Send performs one attempt. An empty token means no Authorization header.
	Send          func(ctx context.Context, token, attemptID string) (int, error)
	IsTimeout     func(error) bool
	IsUnavailable func(error) bool
	// ForbiddenTeardown selects teardown (true) or a surfaced error (false) on 403.
	ForbiddenTeardown bool
	// RefreshOnTimeout lets timeouts take the refresh-and-retry path of other network errors.
	RefreshOnTimeout bool
}

// RunDispatch drives one logical request through the retry-once state machine:
//
//	ISSUED -> TEARDOWN (no credential, not on login surface)
//	ISSUED -> DISPATCHED
//	DISPATCHED -> DONE (<400) | FAILED (5xx, other 4xx, timeout, caller cancelled)
//	DISPATCHED -> REFRESHING (401 or network error, not yet retried)
//	DISPATCHED -> TEARDOWN (401 already retried, 403)
//	REFRESHING -> DISPATCHED (retried) | TEARDOWN (401 path) | FAILED (network path)
func RunDispatch(ctx context.Context, path string, deps DispatchDeps) DispatchResult {
	res := DispatchResult{AttemptID: deps.NewAttemptID()}

	if deps.IsExempt(path) {
		res.Exempt = true
		status, err := deps.Send(ctx, "", res.AttemptID)
		res.Attempts = 1
		return passthrough(res, status, err, deps)
	}

	token, ok := deps.ValidToken(ctx)
	if !ok {
		if !deps.OnLoginSurface() {
			res.Outcome = DispatchTeardown
			res.Failure = DispatchFailureNoCredential
			return res
		}
		token = ""
	}

	for {
		status, err := deps.Send(ctx, token, res.AttemptID)
		res.Attempts++

		if err != nil {
			timeout := deps.IsTimeout(err)
			switch {
			case ctx.Err() != nil:
				// The caller gave up; the credential is not in question.
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return failed(res, DispatchFailureTimeout, 0, err)
				}
				return failed(res, DispatchFailureNetwork, 0, err)
			case deps.IsUnavailable(err):
				return failed(res, DispatchFailureUnavailable, 0, err)
			case timeout && !deps.RefreshOnTimeout:
				return failed(res, DispatchFailureTimeout, 0, err)
			case res.Retried:
				if timeout {
					return failed(res, DispatchFailureTimeout, 0, err)
				}
				return failed(res, DispatchFailureNetwork, 0, err)
			}

			res.Retried = true
			fresh, rerr := deps.Refresh(ctx, RefreshReasonNetwork)
			if rerr != nil {
				if timeout {
					return failed(res, DispatchFailureTimeout, 0, err)
				}
				return failed(res, DispatchFailureNetwork, 0, err)
			}
			token = fresh
			continue
		}

		switch {
		case status < http.StatusBadRequest:
			res.Outcome = DispatchDone
			res.Status = status
			return res
		case status == http.StatusUnauthorized:
			if res.Retried {
				res.Outcome = DispatchTeardown
				res.Failure = DispatchFailureUnauthorized
				res.Status = status
				return res
			}
			res.Retried = true
			fresh, rerr := deps.Refresh(ctx, RefreshReasonUnauthorized)
			if rerr != nil {
				res.Outcome = DispatchTeardown
				res.Failure = DispatchFailureRefresh
				res.Status = status
				res.Err = rerr
				return res
			}
			token = fresh
		case status == http.StatusForbidden:
			if deps.ForbiddenTeardown {
				res.Outcome = DispatchTeardown
				res.Failure = DispatchFailureForbidden
				res.Status = status
				return res
			}
			return failed(res, DispatchFailureForbidden, status, nil)
		default:
			return failed(res, DispatchFailureStatus, status, nil)
		}
	}
}

func passthrough(res DispatchResult, status int, err error, deps DispatchDeps) DispatchResult {
	switch {
	case err == nil && status < http.StatusBadRequest:
		res.Outcome = DispatchDone
		res.Status = status
		return res
	case err == nil:
		return failed(res, DispatchFailureStatus, status, nil)
	case deps.IsUnavailable(err):
		return failed(res, DispatchFailureUnavailable, 0, err)
	case deps.IsTimeout(err):
		return failed(res, DispatchFailureTimeout, 0, err)
	default:
		return failed(res, DispatchFailureNetwork, 0, err)
	}
}

func failed(res DispatchResult, kind DispatchFailureKind, status int, err error) DispatchResult {
	res.Outcome = DispatchFailed
	res.Failure = kind
	res.Status = status
	res.Err = err
	return res
}
