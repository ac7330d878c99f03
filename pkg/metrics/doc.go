// Package metrics holds the process-internal Prometheus collectors
// shared by the core components and the Timer helper for histogram
// timing. Handler returns an http.Handler for whatever process embeds
// these components to mount, but mounting it is out of scope for the
// core components themselves.
//
// Usage:
//
//	timer := metrics.NewTimer()
//	defer timer.ObserveDuration(metrics.ContainerStartDuration)
package metrics
