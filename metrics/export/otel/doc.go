// Package otel mirrors authguard counters and latency histograms into
// OpenTelemetry observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per counter. Each latency
// histogram becomes a "<name>_bucket" gauge with one data point per "le"
// attribute value plus a "<name>_count" gauge. A single callback reads
// [authguard.Coordinator.MetricsSnapshot] on each collection cycle. Callers
// own the MeterProvider.
package otel
