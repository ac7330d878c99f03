// Package orchestrator implements the deployment controller (§4.5): a
// Deployment describes a desired replica count for an image/command/port
// spec, and the convergence loop drives the actual container set held by
// C1 (pkg/runtime) toward it. A separate evaluator tick watches collected
// metrics and adjusts desired_replicas for deployments that opt into
// auto-scaling.
//
// Orchestrator owns two in-memory maps (deployments, services), each
// persisted as JSON to disk after every mutating call, and publishes a
// stream of typed events (scale up/down, blocked, policy change) that
// monitoring glue can subscribe to.
package orchestrator
