package orchestrator

import (
	"context"
	"strconv"
	"time"

	"github.com/wendelmax/polis/pkg/metrics"
	"github.com/wendelmax/polis/pkg/runtime"
	"github.com/wendelmax/polis/pkg/types"
)

// runConvergeLoop ticks every convergeInterval, reconciling one
// deployment after another (§5 — "Orchestrator convergence is
// single-threaded per deployment... across deployments it may fan out";
// this implementation processes the set sequentially, which is a valid
// degenerate case of "may fan out").
func (o *Orchestrator) runConvergeLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.convergeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.convergeAll(ctx)
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) convergeAll(ctx context.Context) {
	timer := metrics.NewTimer()
	for _, d := range o.ListDeployments() {
		if err := o.convergeOne(ctx, d.ID); err != nil {
			o.logger.Error().Str("deployment_id", string(d.ID)).Err(err).Msg("convergence cycle failed")
		}
		o.syncHealthChecks(d.ID)
	}
	timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()
}

// syncHealthChecks starts or stops probe loops for a deployment's
// current container set, then refreshes its readiness count.
func (o *Orchestrator) syncHealthChecks(id types.DeploymentId) {
	o.mu.RLock()
	d, ok := o.deployments[id]
	var hc *types.HealthCheck
	if ok {
		hc = d.HealthCheck
	}
	o.mu.RUnlock()
	if !ok {
		return
	}

	containers := o.containersForDeployment(id)
	if hc != nil {
		checks := make(map[types.ContainerId]*types.HealthCheck, len(containers))
		for _, c := range containers {
			checks[c.ID] = hc
		}
		o.health.sync(containers, checks)
	}
	o.updateDeploymentCounts(id)
}

// convergeOne brings the container set for one deployment to its
// desired_replicas (§4.5 convergence).
func (o *Orchestrator) convergeOne(ctx context.Context, id types.DeploymentId) error {
	o.mu.RLock()
	d, ok := o.deployments[id]
	if !ok {
		o.mu.RUnlock()
		return nil
	}
	snapshot := *d
	o.mu.RUnlock()

	existing := o.containersForDeployment(id)
	present := make(map[int]types.Container, len(existing))
	for _, c := range existing {
		present[replicaIndexOf(c)] = c
	}

	for i := 0; i < snapshot.DesiredReplicas; i++ {
		if _, ok := present[i]; ok {
			continue
		}
		if err := o.createReplica(ctx, &snapshot, i); err != nil {
			o.logger.Error().Str("deployment_id", string(id)).Int("replica", i).Err(err).Msg("create replica failed")
		}
	}

	for idx := len(existing) - 1; idx >= 0; idx-- {
		c := existing[idx]
		i := replicaIndexOf(c)
		if i < snapshot.DesiredReplicas {
			continue
		}
		o.removeReplica(ctx, c)
	}

	o.updateDeploymentCounts(id)
	return o.persist()
}

func (o *Orchestrator) createReplica(ctx context.Context, d *types.Deployment, index int) error {
	name := replicaName(d.Namespace, d.Name, index)
	labels := make(map[string]string, len(d.Labels)+2)
	for k, v := range d.Labels {
		labels[k] = v
	}
	labels[labelDeploymentID] = string(d.ID)
	labels[labelReplicaIndex] = strconv.Itoa(index)

	var resources types.ResourceLimits
	if d.Resources != nil {
		resources = *d.Resources
	}

	cid, err := o.engine.CreateContainer(name, d.Image, d.Command, runtime.CreateOptions{
		Env:            d.EnvVars,
		ResourceLimits: resources,
		Ports:          d.Ports,
		Labels:         labels,
	})
	if err != nil {
		return err
	}
	return o.engine.StartContainer(ctx, cid)
}

func (o *Orchestrator) removeReplica(ctx context.Context, c types.Container) {
	if c.Status == types.ContainerStatusRunning || c.Status == types.ContainerStatusPaused {
		if err := o.engine.StopContainer(ctx, c.ID); err != nil {
			o.logger.Warn().Str("container_id", string(c.ID)).Err(err).Msg("convergence: stop excess replica failed")
			return
		}
	}
	if err := o.engine.RemoveContainer(ctx, c.ID); err != nil {
		o.logger.Warn().Str("container_id", string(c.ID)).Err(err).Msg("convergence: remove excess replica failed")
	}
}

// updateDeploymentCounts recomputes current/ready/available replica
// counts and status from the live container set. A container only
// counts toward ready_replicas once it passes its health check, when
// the deployment has one configured; otherwise running is a fair
// proxy for ready.
func (o *Orchestrator) updateDeploymentCounts(id types.DeploymentId) {
	o.mu.RLock()
	d, ok := o.deployments[id]
	var hasHealthCheck bool
	if ok {
		hasHealthCheck = d.HealthCheck != nil
	}
	o.mu.RUnlock()
	if !ok {
		return
	}

	running, ready := 0, 0
	for _, c := range o.containersForDeployment(id) {
		if c.Status != types.ContainerStatusRunning {
			continue
		}
		running++
		if !hasHealthCheck || o.health.isHealthy(c.ID) {
			ready++
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok = o.deployments[id]
	if !ok {
		return
	}
	d.CurrentReplicas = running
	d.ReadyReplicas = ready
	d.AvailableReplicas = ready
	d.UpdatedAt = time.Now()
	switch {
	case running == d.DesiredReplicas:
		d.Status = types.DeploymentStatusRunning
	default:
		d.Status = types.DeploymentStatusScaling
	}
	o.refreshDeploymentGaugesLocked()
}

// refreshDeploymentGaugesLocked recomputes the per-status deployment
// gauge and the cross-deployment replica total. Callers must hold o.mu.
func (o *Orchestrator) refreshDeploymentGaugesLocked() {
	counts := make(map[types.DeploymentStatus]int)
	replicas := 0
	for _, d := range o.deployments {
		counts[d.Status]++
		replicas += d.CurrentReplicas
	}
	for _, status := range []types.DeploymentStatus{
		types.DeploymentStatusPending, types.DeploymentStatusRunning,
		types.DeploymentStatusScaling, types.DeploymentStatusFailed,
		types.DeploymentStatusPaused,
	} {
		metrics.DeploymentsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	metrics.DeploymentReplicasTotal.Set(float64(replicas))
}
