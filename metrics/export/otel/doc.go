// Package otel exposes identity metrics as OpenTelemetry observable
// instruments.
//
// Callers own the MeterProvider and pass a Meter to [NewExporter].
package otel
