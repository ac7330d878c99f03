package orchestrator

import (
	"context"
	"time"

	"github.com/wendelmax/polis/pkg/metrics"
	"github.com/wendelmax/polis/pkg/types"
)

// runEvaluateLoop ticks every evaluateInterval, running the auto-scaling
// evaluator (§4.5) against every deployment with an enabled ScalingPolicy.
func (o *Orchestrator) runEvaluateLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.evaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.evaluateAll()
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) evaluateAll() {
	for _, d := range o.ListDeployments() {
		if d.ScalingPolicy == nil || !d.ScalingPolicy.Enabled {
			continue
		}
		o.evaluateOne(d)
	}
}

// evaluateOne runs one scaling decision for a deployment and records it,
// regardless of outcome, in the capped scaling history (§4.5).
func (o *Orchestrator) evaluateOne(d types.Deployment) {
	m, ok := o.metrics.latest(d.ID)
	if !ok {
		return
	}

	policy := *d.ScalingPolicy
	now := time.Now()
	desired, reason := evaluateDesiredReplicas(policy, d.CurrentReplicas, m)

	action := types.ScalingAction{
		DeploymentID: d.ID,
		FromReplicas: d.CurrentReplicas,
		ToReplicas:   desired,
		Reason:       reason,
		Timestamp:    now,
		Success:      true,
	}

	switch {
	case desired > d.CurrentReplicas:
		if o.cooldowns.blockedUp(d.ID, policy.ScaleUpCooldown, now) {
			action.ActionType = types.ScalingActionNoAction
			action.ToReplicas = d.CurrentReplicas
			action.Success = false
			action.Reason = "scale-up blocked by cooldown"
			o.broker.Publish(&Event{Type: EventScalingBlocked, DeploymentID: d.ID, Message: action.Reason, FromReplicas: d.CurrentReplicas, ToReplicas: desired})
			o.history.record(action)
			metrics.ScalingBlockedTotal.Inc()
			return
		}
		action.ActionType = types.ScalingActionScaleUp
		o.cooldowns.markUp(d.ID, now)
		if _, err := o.Scale(d.Name, d.Namespace, desired); err != nil {
			action.Success = false
			o.logger.Error().Str("deployment_id", string(d.ID)).Err(err).Msg("auto-scale up failed")
		} else {
			o.broker.Publish(&Event{Type: EventScaleUp, DeploymentID: d.ID, Message: reason, FromReplicas: d.CurrentReplicas, ToReplicas: desired})
		}
		o.history.record(action)
		metrics.ScalingEvaluationsTotal.WithLabelValues(string(action.ActionType)).Inc()

	case desired < d.CurrentReplicas:
		if o.cooldowns.blockedDown(d.ID, policy.ScaleDownCooldown, now) {
			action.ActionType = types.ScalingActionNoAction
			action.ToReplicas = d.CurrentReplicas
			action.Success = false
			action.Reason = "scale-down blocked by cooldown"
			o.broker.Publish(&Event{Type: EventScalingBlocked, DeploymentID: d.ID, Message: action.Reason, FromReplicas: d.CurrentReplicas, ToReplicas: desired})
			o.history.record(action)
			metrics.ScalingBlockedTotal.Inc()
			return
		}
		action.ActionType = types.ScalingActionScaleDown
		o.cooldowns.markDown(d.ID, now)
		if _, err := o.Scale(d.Name, d.Namespace, desired); err != nil {
			action.Success = false
			o.logger.Error().Str("deployment_id", string(d.ID)).Err(err).Msg("auto-scale down failed")
		} else {
			o.broker.Publish(&Event{Type: EventScaleDown, DeploymentID: d.ID, Message: reason, FromReplicas: d.CurrentReplicas, ToReplicas: desired})
		}
		o.history.record(action)
		metrics.ScalingEvaluationsTotal.WithLabelValues(string(action.ActionType)).Inc()

	default:
		action.ActionType = types.ScalingActionNoAction
		o.history.record(action)
		metrics.ScalingEvaluationsTotal.WithLabelValues(string(action.ActionType)).Inc()
	}
}

// UpdateScalingPolicy replaces a deployment's policy and publishes
// PolicyUpdated.
func (o *Orchestrator) UpdateScalingPolicy(name, namespace string, policy types.ScalingPolicy) error {
	if namespace == "" {
		namespace = "default"
	}
	o.mu.Lock()
	id, ok := o.byKey[deploymentKey(name, namespace)]
	if !ok {
		o.mu.Unlock()
		return notFoundErr(namespace, name)
	}
	d := o.deployments[id]
	d.ScalingPolicy = &policy
	d.UpdatedAt = time.Now()
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return err
	}
	o.broker.Publish(&Event{Type: EventPolicyUpdated, DeploymentID: id, Message: "scaling policy updated"})
	return nil
}
