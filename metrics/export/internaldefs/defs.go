package internaldefs

import (
	"github.com/MrEthical07/authpipe"
)

// CounterDef names one pipeline counter.
type CounterDef struct {
	ID   authpipe.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram.
type HistogramDef struct {
	ID   authpipe.MetricID
	Name string
	Help string
}

// EventsDroppedName is the counter for events dropped by the buffered dispatcher.
const EventsDroppedName = "authpipe_events_dropped_total"

var CounterDefs = []CounterDef{
	{ID: authpipe.MetricDispatchSuccess, Name: "authpipe_dispatch_success_total", Help: "Requests that completed below status 400."},
	{ID: authpipe.MetricDispatchRetried, Name: "authpipe_dispatch_retried_total", Help: "Requests redispatched after a credential refresh."},
	{ID: authpipe.MetricDispatchNoCredential, Name: "authpipe_dispatch_no_credential_total", Help: "Requests failed locally for lack of a credential."},
	{ID: authpipe.MetricDispatchTimeout, Name: "authpipe_dispatch_timeout_total", Help: "Requests that timed out."},
	{ID: authpipe.MetricDispatchNetworkError, Name: "authpipe_dispatch_network_error_total", Help: "Requests that failed without an HTTP status."},
	{ID: authpipe.MetricDispatchUnavailable, Name: "authpipe_dispatch_unavailable_total", Help: "Requests rejected by the circuit breaker."},
	{ID: authpipe.MetricDispatchHTTPError, Name: "authpipe_dispatch_http_error_total", Help: "Requests answered with a non-auth error status."},
	{ID: authpipe.MetricDispatchUnauthorized, Name: "authpipe_dispatch_unauthorized_total", Help: "Requests that ended in an unrecoverable 401."},
	{ID: authpipe.MetricDispatchForbidden, Name: "authpipe_dispatch_forbidden_total", Help: "Requests answered with 403."},
	{ID: authpipe.MetricTokenCacheHit, Name: "authpipe_token_cache_hit_total", Help: "Credential lookups served from storage."},
	{ID: authpipe.MetricRefreshSuccess, Name: "authpipe_refresh_success_total", Help: "Successful identity-provider refreshes."},
	{ID: authpipe.MetricRefreshFailure, Name: "authpipe_refresh_failure_total", Help: "Failed identity-provider refreshes."},
	{ID: authpipe.MetricRefreshShared, Name: "authpipe_refresh_shared_total", Help: "Refresh results delivered to more than one caller."},
	{ID: authpipe.MetricRefreshThrottled, Name: "authpipe_refresh_throttled_total", Help: "Refreshes abandoned while paced."},
	{ID: authpipe.MetricRefreshPersistFailure, Name: "authpipe_refresh_persist_failure_total", Help: "Refreshed credentials that could not be stored."},
	{ID: authpipe.MetricProactiveRefresh, Name: "authpipe_proactive_refresh_total", Help: "Refreshes started by the scheduler."},
	{ID: authpipe.MetricTeardown, Name: "authpipe_teardown_total", Help: "Session teardowns."},
	{ID: authpipe.MetricTeardownSuppressed, Name: "authpipe_teardown_suppressed_total", Help: "Teardowns skipped because one was already running."},
	{ID: authpipe.MetricSignIn, Name: "authpipe_sign_in_total", Help: "Successful sign-ins."},
	{ID: authpipe.MetricSignInFailure, Name: "authpipe_sign_in_failure_total", Help: "Failed sign-ins."},
	{ID: authpipe.MetricSignOut, Name: "authpipe_sign_out_total", Help: "Sign-outs."},
}

var HistogramDefs = []HistogramDef{
	{ID: authpipe.MetricDispatchLatency, Name: "authpipe_dispatch_latency_seconds", Help: "Logical request latency, retries included."},
	{ID: authpipe.MetricRefreshLatency, Name: "authpipe_refresh_latency_seconds", Help: "Identity-provider refresh latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds; the last bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
