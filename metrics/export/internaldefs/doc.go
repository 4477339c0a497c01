// Package internaldefs holds the metric names, help strings and bucket boundaries
// shared by the Prometheus and OTel exporters, so both expose identical series.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
