// Package metrics defines the Prometheus metrics exported by the watch-party service.
// Lifecycle, activation, peer transport, and HTTP API instrumentation all live here.
package metrics
