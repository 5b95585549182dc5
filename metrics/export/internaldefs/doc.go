// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters, so Prometheus and OpenTelemetry report identical series.
//
// It performs no I/O and imports no exporter package.
package internaldefs
