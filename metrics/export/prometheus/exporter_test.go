package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authpipe"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot authpipe.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authpipe.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                    { return f.dropped }

func TestCollectorEmptyWhenMetricsDisabled(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: authpipe.MetricsSnapshot{
			Counters:   map[authpipe.MetricID]uint64{},
			Histograms: map[authpipe.MetricID][]uint64{},
		},
	})
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: authpipe.MetricsSnapshot{
			Counters: map[authpipe.MetricID]uint64{
				authpipe.MetricDispatchSuccess: 7,
				authpipe.MetricTeardown:        1,
			},
			Histograms: map[authpipe.MetricID][]uint64{},
		},
		dropped: 2,
	})

	expected := `
# HELP authpipe_dispatch_success_total Requests that completed below status 400.
# TYPE authpipe_dispatch_success_total counter
authpipe_dispatch_success_total 7
# HELP authpipe_teardown_total Session teardowns.
# TYPE authpipe_teardown_total counter
authpipe_teardown_total 1
# HELP authpipe_events_dropped_total Auth events dropped by the buffered dispatcher.
# TYPE authpipe_events_dropped_total counter
authpipe_events_dropped_total 2
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"authpipe_dispatch_success_total",
		"authpipe_teardown_total",
		"authpipe_events_dropped_total",
	)
	require.NoError(t, err)
}

func TestHandlerRendersHistogram(t *testing.T) {
	h := Handler(fakeSource{
		snapshot: authpipe.MetricsSnapshot{
			Counters: map[authpipe.MetricID]uint64{
				authpipe.MetricRefreshSuccess: 3,
			},
			Histograms: map[authpipe.MetricID][]uint64{
				authpipe.MetricDispatchLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
	})

	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := string(body)

	assert.Contains(t, out, "authpipe_refresh_success_total 3")
	assert.Contains(t, out, `authpipe_dispatch_latency_seconds_bucket{le="0.005"} 1`)
	assert.Contains(t, out, `authpipe_dispatch_latency_seconds_bucket{le="+Inf"} 36`)
	assert.Contains(t, out, "authpipe_dispatch_latency_seconds_count 36")
	assert.NotContains(t, out, "authpipe_refresh_latency_seconds_bucket")
}
