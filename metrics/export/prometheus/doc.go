// Package prometheus renders identity counters and histograms in the
// Prometheus text exposition format.
//
// Mount [Exporter.Handler] on the metrics route. Nothing is registered in a
// global registry.
package prometheus
