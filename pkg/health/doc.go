/*
Package health implements container health check mechanisms: HTTP, TCP,
and exec probes behind a common Checker interface.

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

A Status tracks consecutive successes/failures over time and applies
hysteresis via Config.Retries, so a single flaky probe doesn't flip a
container's health state:

	status := health.NewStatus()
	cfg := health.Config{Interval: 15 * time.Second, Timeout: 5 * time.Second, Retries: 3}
	result := checker.Check(ctx)
	status.Update(result, cfg)
	if !status.Healthy {
		// consecutive failures reached cfg.Retries
	}

pkg/orchestrator drives this package directly: its convergence loop
starts one probe goroutine per running container that has a
types.HealthCheck configured, and only counts a container toward a
deployment's ready_replicas once its Status reports Healthy.

ExecChecker always runs the configured command on the host, also when
WithContainer has set a container ID; it does not enter the target
container's namespaces.
*/
package health
