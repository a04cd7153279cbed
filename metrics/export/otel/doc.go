// Package otel provides OpenTelemetry bindings for the pipeline counters.
//
// [NewOTelExporter] registers an Int64ObservableCounter per counter and a
// single callback that reads one snapshot per collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate pipeline state.
package otel
