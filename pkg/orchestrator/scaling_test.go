package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/types"
)

func testPolicy() types.ScalingPolicy {
	return types.ScalingPolicy{
		MinReplicas:             1,
		MaxReplicas:             10,
		TargetCPUUtilization:    70,
		TargetMemoryUtilization: 80,
		TargetRequestsPerSecond: 1000,
		Enabled:                 true,
	}
}

func TestEvaluateDesiredReplicasScalesUpOnOverTarget(t *testing.T) {
	desired, _ := evaluateDesiredReplicas(testPolicy(), 2, types.ScalingMetrics{CPUUtilization: 90})
	assert.Equal(t, 4, desired)
}

func TestEvaluateDesiredReplicasCapsAtMaxReplicas(t *testing.T) {
	desired, _ := evaluateDesiredReplicas(testPolicy(), 8, types.ScalingMetrics{CPUUtilization: 90})
	assert.Equal(t, 10, desired)
}

func TestEvaluateDesiredReplicasScalesDownWhenAllBelowHalfTarget(t *testing.T) {
	desired, _ := evaluateDesiredReplicas(testPolicy(), 4, types.ScalingMetrics{
		CPUUtilization: 10, MemoryUtilization: 20, RequestsPerSecond: 100,
	})
	assert.Equal(t, 2, desired)
}

func TestEvaluateDesiredReplicasFloorsAtMinReplicas(t *testing.T) {
	desired, _ := evaluateDesiredReplicas(testPolicy(), 1, types.ScalingMetrics{
		CPUUtilization: 1, MemoryUtilization: 1, RequestsPerSecond: 1,
	})
	assert.Equal(t, 1, desired)
}

func TestEvaluateDesiredReplicasUnchangedWithinBand(t *testing.T) {
	desired, reason := evaluateDesiredReplicas(testPolicy(), 3, types.ScalingMetrics{
		CPUUtilization: 50, MemoryUtilization: 50, RequestsPerSecond: 500,
	})
	assert.Equal(t, 3, desired)
	assert.Contains(t, reason, "within target band")
}

func TestMetricsStoreCapsAt100Samples(t *testing.T) {
	s := newMetricsStore()
	base := time.Now()
	for i := 0; i < 150; i++ {
		s.collect(types.ScalingMetrics{DeploymentID: "d1", Timestamp: base.Add(time.Duration(i) * time.Second), CPUUtilization: float64(i)})
	}
	s.mu.Lock()
	n := len(s.samples["d1"])
	s.mu.Unlock()
	assert.Equal(t, metricsHistoryCap, n)
}

func TestMetricsStoreAverageWindow(t *testing.T) {
	s := newMetricsStore()
	now := time.Now()
	s.collect(types.ScalingMetrics{DeploymentID: "d1", Timestamp: now.Add(-5 * time.Minute), CPUUtilization: 100})
	s.collect(types.ScalingMetrics{DeploymentID: "d1", Timestamp: now.Add(-10 * time.Second), CPUUtilization: 20})
	s.collect(types.ScalingMetrics{DeploymentID: "d1", Timestamp: now, CPUUtilization: 40})

	avg, ok := s.average("d1", time.Minute, now)
	require.True(t, ok)
	assert.Equal(t, 30.0, avg.CPUUtilization)
}

func TestScalingHistoryCapsAt1000AndFiltersByDeployment(t *testing.T) {
	h := newScalingHistory()
	for i := 0; i < 1200; i++ {
		h.record(types.ScalingAction{DeploymentID: "d1", ActionType: types.ScalingActionNoAction})
	}
	h.record(types.ScalingAction{DeploymentID: "d2", ActionType: types.ScalingActionNoAction})

	assert.Len(t, h.forDeployment("d1"), scalingHistoryCap-1)
	assert.Len(t, h.forDeployment("d2"), 1)
}

func TestCooldownTrackerBlocksWithinWindow(t *testing.T) {
	c := newCooldownTracker()
	now := time.Now()
	c.markUp("d1", now)

	assert.True(t, c.blockedUp("d1", time.Minute, now.Add(10*time.Second)))
	assert.False(t, c.blockedUp("d1", time.Minute, now.Add(2*time.Minute)))
	assert.False(t, c.blockedDown("d1", time.Minute, now.Add(10*time.Second)))
}
