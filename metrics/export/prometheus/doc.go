// Package prometheus exposes authguard counters and latency histograms as a
// client_golang Collector.
//
// [NewExporter] wraps an [authguard.Coordinator]; register it with any
// registry, or mount [Exporter.Handler] which uses a private one. Counter
// names are authguard_*_total and histograms are authguard_*_latency_seconds.
// The exporter never registers with the global default registry.
package prometheus
