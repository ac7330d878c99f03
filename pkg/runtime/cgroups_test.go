package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/types"
)

// Live cgroup mutation against a real supervised PID needs an actual
// spawned process and a real cgroup filesystem, so it's exercised
// manually/in integration, not here — the same boundary containerd.go
// itself draws around live driver calls.

func TestUpdateResourceLimitsRequiresRunning(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	err = e.UpdateResourceLimits(id, types.ResourceLimits{MemoryLimit: 64 << 20})
	assert.Error(t, err)
}

func TestUpdateResourceLimitsOnUnknownContainerFails(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	err := e.UpdateResourceLimits(types.ContainerId("missing"), types.ResourceLimits{MemoryLimit: 1})
	assert.Error(t, err)
}
