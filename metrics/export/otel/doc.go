// Package otel binds tab metrics to an OpenTelemetry meter.
//
// [NewExporter] registers an Int64ObservableCounter per counter and an
// Int64ObservableGauge per latency bucket. One callback reads every tab's
// snapshot on each collection and tags it with the tab id.
//
// The caller owns the MeterProvider.
package otel
