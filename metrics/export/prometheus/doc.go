// Package prometheus renders the pipeline counters in Prometheus text
// exposition format without depending on the Prometheus client library.
//
// [NewPrometheusExporter] reads [authguard.Guard.MetricsSnapshot] on each
// scrape; [PrometheusExporter.Handler] plugs straight into any mux.
package prometheus
