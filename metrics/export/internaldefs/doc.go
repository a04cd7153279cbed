// Package internaldefs holds the shared counter definitions used by the
// Prometheus and OpenTelemetry exporters. It is internal to the
// metrics/export tree and carries no exporter logic of its own.
package internaldefs
