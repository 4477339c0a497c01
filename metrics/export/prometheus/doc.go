// Package prometheus exposes pipeline counters and latency histograms as a
// client_golang Collector.
//
// [NewCollector] reads [authpipe.Pipeline.MetricsSnapshot] on every scrape. Counter
// names are authpipe_*_total; histograms are authpipe_*_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers register the Collector or
//     mount [Handler].
//   - Mutate pipeline state.
package prometheus
