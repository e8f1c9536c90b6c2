// Package metrics provides lock-free counters and latency histograms.
//
// Counters live in cache-line-padded slots incremented with sync/atomic, and
// histograms use eight fixed buckets. The write path does not allocate.
// Exporters under metrics/export read [Metrics.Snapshot]; this package does
// no I/O.
package metrics
