package flows

import (
	"context"
	"errors"
	"testing"
)

type refreshHarness struct {
	stored   string
	purged   int
	warnings []string
	issueErr error
	issued   string
	waitErr  error
	persist  error
}

func (h *refreshHarness) deps() RefreshDeps {
	return RefreshDeps{
		Wait: func(context.Context) error { return h.waitErr },
		Issue: func(context.Context) (string, error) {
			return h.issued, h.issueErr
		},
		Persist: func(_ context.Context, v string) error {
			if h.persist != nil {
				return h.persist
			}
			h.stored = v
			return nil
		},
		Purge: func(context.Context) error {
			h.purged++
			h.stored = ""
			return nil
		},
		Warn: func(msg string, _ error) { h.warnings = append(h.warnings, msg) },
	}
}

func TestRunRefreshPersistsCredential(t *testing.T) {
	h := &refreshHarness{stored: "old", issued: "new"}
	res := RunRefresh(context.Background(), h.deps())

	if res.Failure != RefreshFailureNone || res.Credential != "new" || !res.Persisted {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.stored != "new" {
		t.Fatalf("expected stored credential, got %q", h.stored)
	}
}

func TestRunRefreshIssueFailurePurges(t *testing.T) {
	h := &refreshHarness{stored: "old", issueErr: errors.New("revoked")}
	res := RunRefresh(context.Background(), h.deps())

	if res.Failure != RefreshFailureIssue || !errors.Is(res.Err, h.issueErr) {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.purged != 1 || h.stored != "" {
		t.Fatalf("expected purge, purged=%d stored=%q", h.purged, h.stored)
	}
}

func TestRunRefreshEmptyCredentialPurges(t *testing.T) {
	h := &refreshHarness{stored: "old"}
	res := RunRefresh(context.Background(), h.deps())

	if res.Failure != RefreshFailureEmpty || h.purged != 1 {
		t.Fatalf("unexpected result: %+v purged=%d", res, h.purged)
	}
}

func TestRunRefreshThrottledKeepsCache(t *testing.T) {
	h := &refreshHarness{stored: "old", waitErr: errors.New("throttled")}
	res := RunRefresh(context.Background(), h.deps())

	if res.Failure != RefreshFailureThrottled {
		t.Fatalf("unexpected result: %+v", res)
	}
	if h.purged != 0 || h.stored != "old" {
		t.Fatal("throttled refresh must not purge")
	}
}

func TestRunRefreshPersistFailureWarnsButSucceeds(t *testing.T) {
	h := &refreshHarness{issued: "new", persist: errors.New("redis down")}
	res := RunRefresh(context.Background(), h.deps())

	if res.Failure != RefreshFailureNone || res.Persisted || res.Credential != "new" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(h.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", h.warnings)
	}
}

func TestRunSignOutReturnsClearFailure(t *testing.T) {
	clearErr := errors.New("redis down")
	res := RunSignOut(context.Background(), SignOutDeps{
		ProviderSignOut: func(context.Context) error { return nil },
		Clear:           func(context.Context) error { return clearErr },
	})
	if !errors.Is(res.Err(), clearErr) {
		t.Fatalf("expected clear error, got %v", res.Err())
	}
}

func TestRunSignOutClearsEvenOnFailure(t *testing.T) {
	var cleared, stopped bool
	backendErr := errors.New("backend down")
	res := RunSignOut(context.Background(), SignOutDeps{
		NotifyBackend:   func(context.Context) error { return backendErr },
		ProviderSignOut: func(context.Context) error { return nil },
		Clear: func(context.Context) error {
			cleared = true
			return nil
		},
		StopRefresh: func() { stopped = true },
	})

	if !cleared || !stopped {
		t.Fatalf("expected local state cleared (cleared=%v stopped=%v)", cleared, stopped)
	}
	if !errors.Is(res.BackendErr, backendErr) {
		t.Fatalf("expected backend error recorded, got %v", res.BackendErr)
	}
	if res.Err() != nil {
		t.Fatalf("backend failure must not fail sign-out, got %v", res.Err())
	}
}
