// Package metrics exposes the bridge's operational counters in the
// Prometheus text format.
//
// A Metrics value owns a private registry, so tests can create as many as
// they like without colliding on the global default registry. Pass it to
// ingest.Options.Metrics and observer.Registry.SetMetrics, and mount
// Handler() at /metrics.
package metrics
