// Package internaldefs holds the metric names, help strings and bucket
// boundaries shared by the Prometheus and OTel exporters.
//
// Both exporters iterate the same definitions, so a rename here changes every
// exporter at once.
package internaldefs
