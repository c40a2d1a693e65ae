// Package metrics registers the Prometheus metrics exposed on /metrics:
// registry gauges (projects, applications, routes, certificates,
// containers), API request counters/histograms, deployment and ACME
// counters, and the Collector that samples registry state on a 15s tick.
//
// Metrics are all package-level vars, registered at init(). Use NewTimer
// to time an operation and report it to a histogram:
//
//	timer := metrics.NewTimer()
//	// ... do work ...
//	timer.ObserveDuration(metrics.DeploymentDuration)
package metrics
