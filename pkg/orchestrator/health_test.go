package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/health"
	"github.com/wendelmax/polis/pkg/types"
)

type stubChecker struct {
	healthy func() bool
}

func (s stubChecker) Check(ctx context.Context) health.Result {
	return health.Result{Healthy: s.healthy(), CheckedAt: time.Now()}
}

func (s stubChecker) Type() health.CheckType { return health.CheckTypeTCP }

func TestHealthMonitorUnmonitoredContainerIsHealthy(t *testing.T) {
	hm := newHealthMonitor()
	assert.True(t, hm.isHealthy("unknown"))
}

func TestHealthMonitorTracksFailuresAndRecovers(t *testing.T) {
	hm := newHealthMonitor()
	defer hm.stop()

	healthy := false
	id := types.ContainerId("c1")
	mon := &containerMonitor{
		checker: stubChecker{healthy: func() bool { return healthy }},
		config:  health.Config{Interval: time.Hour, Timeout: time.Second, Retries: 2},
		status:  health.NewStatus(),
	}
	hm.mu.Lock()
	hm.monitors[id] = mon
	hm.mu.Unlock()

	hm.probe(context.Background(), mon)
	assert.True(t, hm.isHealthy(id), "first failure shouldn't flip healthy status")

	hm.probe(context.Background(), mon)
	assert.False(t, hm.isHealthy(id), "two consecutive failures should trip Retries=2")

	healthy = true
	hm.probe(context.Background(), mon)
	assert.True(t, hm.isHealthy(id), "a single success should clear unhealthy status")
}

func TestHealthMonitorSyncRemovesStaleContainers(t *testing.T) {
	hm := newHealthMonitor()
	defer hm.stop()

	id := types.ContainerId("gone")
	hm.mu.Lock()
	hm.monitors[id] = &containerMonitor{status: health.NewStatus()}
	hm.cancelFns[id] = func() {}
	hm.mu.Unlock()

	hm.sync(nil, nil)

	hm.mu.RLock()
	_, ok := hm.monitors[id]
	hm.mu.RUnlock()
	assert.False(t, ok, "sync should drop monitors for containers no longer present")
}

func TestUpdateDeploymentCountsUsesHealthCheckForReadiness(t *testing.T) {
	o := newTestOrchestrator(t)

	d, err := o.Deploy(DeploymentSpec{
		Name:            "web",
		Namespace:       "default",
		Image:           "nginx:latest",
		DesiredReplicas: 1,
		HealthCheck: &types.HealthCheck{
			Type:     types.HealthCheckTCP,
			Endpoint: "127.0.0.1:1",
			Interval: time.Hour,
			Timeout:  time.Second,
			Retries:  1,
		},
	})
	require.NoError(t, err)

	require.NoError(t, o.convergeOne(context.Background(), d.ID))

	containers := o.containersForDeployment(d.ID)
	require.Len(t, containers, 1)

	// Mark the replica unhealthy directly, as if a probe had already run
	// and failed, then confirm ready_replicas reflects that rather than
	// just the running container count.
	st := health.NewStatus()
	st.Update(health.Result{Healthy: false}, health.Config{Retries: 1})
	o.health.mu.Lock()
	o.health.monitors[containers[0].ID] = &containerMonitor{status: st}
	o.health.mu.Unlock()

	o.updateDeploymentCounts(d.ID)

	got, err := o.GetStatus("web", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentReplicas)
	assert.Equal(t, 0, got.ReadyReplicas, "unhealthy replica should not count as ready")
}
