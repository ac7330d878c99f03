package orchestrator

import (
	"sync"
	"time"

	"github.com/wendelmax/polis/pkg/types"
)

const (
	metricsHistoryCap = 100
	scalingHistoryCap = 1000
)

// metricsStore keeps a capped ring of ScalingMetrics per deployment
// (§4.5 "collect_metrics... appends to a per-deployment ring (cap 100)").
type metricsStore struct {
	mu      sync.Mutex
	samples map[types.DeploymentId][]types.ScalingMetrics
}

func newMetricsStore() *metricsStore {
	return &metricsStore{samples: make(map[types.DeploymentId][]types.ScalingMetrics)}
}

func (s *metricsStore) collect(m types.ScalingMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append(s.samples[m.DeploymentID], m)
	if len(list) > metricsHistoryCap {
		list = list[len(list)-metricsHistoryCap:]
	}
	s.samples[m.DeploymentID] = list
}

// latest returns the most recently collected sample, if any.
func (s *metricsStore) latest(id types.DeploymentId) (types.ScalingMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.samples[id]
	if len(list) == 0 {
		return types.ScalingMetrics{}, false
	}
	return list[len(list)-1], true
}

// average returns the mean of every sample newer than now-window.
func (s *metricsStore) average(id types.DeploymentId, window time.Duration, now time.Time) (types.ScalingMetrics, bool) {
	s.mu.Lock()
	list := append([]types.ScalingMetrics(nil), s.samples[id]...)
	s.mu.Unlock()

	cutoff := now.Add(-window)
	var sum types.ScalingMetrics
	var n int
	for _, m := range list {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		sum.CPUUtilization += m.CPUUtilization
		sum.MemoryUtilization += m.MemoryUtilization
		sum.RequestsPerSecond += m.RequestsPerSecond
		sum.ResponseTime += m.ResponseTime
		sum.ErrorRate += m.ErrorRate
		sum.ActiveConnections += m.ActiveConnections
		n++
	}
	if n == 0 {
		return types.ScalingMetrics{}, false
	}
	avg := types.ScalingMetrics{
		DeploymentID:      id,
		Timestamp:         now,
		CPUUtilization:    sum.CPUUtilization / float64(n),
		MemoryUtilization: sum.MemoryUtilization / float64(n),
		RequestsPerSecond: sum.RequestsPerSecond / float64(n),
		ResponseTime:      sum.ResponseTime / time.Duration(n),
		ErrorRate:         sum.ErrorRate / float64(n),
		ActiveConnections: sum.ActiveConnections / n,
	}
	return avg, true
}

// scalingHistory keeps a single capped ring of every evaluation across
// all deployments (§4.5, grounded on the original auto_scaling.rs
// ScalingEngine, which keeps one combined history and filters by
// deployment_id on read rather than keying per-deployment).
type scalingHistory struct {
	mu      sync.Mutex
	actions []types.ScalingAction
}

func newScalingHistory() *scalingHistory {
	return &scalingHistory{}
}

func (h *scalingHistory) record(a types.ScalingAction) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, a)
	if len(h.actions) > scalingHistoryCap {
		h.actions = h.actions[len(h.actions)-scalingHistoryCap:]
	}
}

func (h *scalingHistory) forDeployment(id types.DeploymentId) []types.ScalingAction {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []types.ScalingAction
	for _, a := range h.actions {
		if a.DeploymentID == id {
			out = append(out, a)
		}
	}
	return out
}

// cooldownTracker records the last scale-up/scale-down time per
// deployment so the evaluator can enforce ScalingPolicy's cooldowns.
// The original Rust evaluator defines scale_up_cooldown/scale_down_cooldown
// on the policy but never actually checks them before acting; this is a
// completion of that gap, not a faithful port of its (missing) behavior.
type cooldownTracker struct {
	mu       sync.Mutex
	lastUp   map[types.DeploymentId]time.Time
	lastDown map[types.DeploymentId]time.Time
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{
		lastUp:   make(map[types.DeploymentId]time.Time),
		lastDown: make(map[types.DeploymentId]time.Time),
	}
}

func (c *cooldownTracker) blockedUp(id types.DeploymentId, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastUp[id]
	return ok && cooldown > 0 && now.Sub(last) < cooldown
}

func (c *cooldownTracker) blockedDown(id types.DeploymentId, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	last, ok := c.lastDown[id]
	return ok && cooldown > 0 && now.Sub(last) < cooldown
}

func (c *cooldownTracker) markUp(id types.DeploymentId, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUp[id] = now
}

func (c *cooldownTracker) markDown(id types.DeploymentId, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDown[id] = now
}

// evaluateDesiredReplicas implements the §4.5 formula, verbatim from the
// original evaluator (auto_scaling.rs evaluate_scaling):
//
//	over target on any of cpu/memory/rps  -> min(current*2, max)
//	under half target on all three        -> max(current/2, min)
//	otherwise                              -> unchanged
func evaluateDesiredReplicas(policy types.ScalingPolicy, current int, m types.ScalingMetrics) (desired int, reason string) {
	over := m.CPUUtilization > policy.TargetCPUUtilization ||
		m.MemoryUtilization > policy.TargetMemoryUtilization ||
		m.RequestsPerSecond > policy.TargetRequestsPerSecond

	if over {
		if current < policy.MaxReplicas {
			desired = current * 2
			if desired > policy.MaxReplicas {
				desired = policy.MaxReplicas
			}
			return desired, "utilization above target"
		}
		return current, "utilization above target but already at max_replicas"
	}

	under := m.CPUUtilization < policy.TargetCPUUtilization*0.5 &&
		m.MemoryUtilization < policy.TargetMemoryUtilization*0.5 &&
		m.RequestsPerSecond < policy.TargetRequestsPerSecond*0.5

	if under {
		if current > policy.MinReplicas {
			desired = current / 2
			if desired < policy.MinReplicas {
				desired = policy.MinReplicas
			}
			return desired, "utilization below half target"
		}
		return current, "utilization below half target but already at min_replicas"
	}

	return current, "utilization within target band"
}
