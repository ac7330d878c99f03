package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

func TestCreateVolumeDefaultsToLocalDriver(t *testing.T) {
	m := newTestManager(t)

	vol, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, types.VolumeDriverLocal, vol.Driver)
	assert.Equal(t, 0, vol.RefCount)
	assert.False(t, vol.InUse())
}

func TestCreateVolumeRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)

	_, err = m.CreateVolume("data", "", nil, nil)
	assert.Error(t, err)
}

func TestCreateVolumeRejectsUnknownDriver(t *testing.T) {
	m := newTestManager(t)

	_, err := m.CreateVolume("data", types.VolumeDriverNFS, nil, nil)
	assert.Error(t, err)
}

func TestRemoveVolumeNotFound(t *testing.T) {
	m := newTestManager(t)
	assert.Error(t, m.RemoveVolume("missing", false))
}

func TestRemoveVolumeSucceeds(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)

	require.NoError(t, m.RemoveVolume("data", false))
	_, err = m.GetVolume("data")
	assert.Error(t, err)
}

func TestRemoveVolumeInUseIsRefusedWithoutForce(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)

	vol, err := m.GetVolume("data")
	require.NoError(t, err)
	vol.RefCount = 1 // simulate an active mount without requiring root

	assert.Error(t, m.RemoveVolume("data", false))
	require.NoError(t, m.RemoveVolume("data", true))
}

func TestListVolumes(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("a", "", nil, nil)
	require.NoError(t, err)
	_, err = m.CreateVolume("b", "", nil, nil)
	require.NoError(t, err)

	assert.Len(t, m.ListVolumes(), 2)
}

func TestUnmountVolumeUntrackedTargetFails(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)

	assert.Error(t, m.UnmountVolume("data", "/not/mounted"))
}

func TestMountAndUnmountVolumeTracksRefCount(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("bind mount requires root")
	}

	m := newTestManager(t)
	_, err := m.CreateVolume("data", "", nil, nil)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "target")
	require.NoError(t, m.MountVolume("data", target, types.MountOptions{}))

	vol, err := m.GetVolume("data")
	require.NoError(t, err)
	assert.Equal(t, 1, vol.RefCount)
	assert.True(t, vol.InUse())

	require.NoError(t, m.UnmountVolume("data", target))
	vol, err = m.GetVolume("data")
	require.NoError(t, err)
	assert.Equal(t, 0, vol.RefCount)
	assert.False(t, vol.InUse())
}

func TestGetVolumeStatsNotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.GetVolumeStats("missing")
	assert.Error(t, err)
}

func TestPruneVolumesDryRunReportsWithoutRemoving(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("idle", "", nil, nil)
	require.NoError(t, err)
	_, err = m.CreateVolume("busy", "", nil, nil)
	require.NoError(t, err)

	busy, err := m.GetVolume("busy")
	require.NoError(t, err)
	busy.RefCount = 1

	result, err := m.PruneVolumes(false)
	require.NoError(t, err)
	assert.Contains(t, result.Removed, "idle")
	assert.NotContains(t, result.Removed, "busy")

	// A dry run must not have actually deleted anything.
	_, err = m.GetVolume("idle")
	assert.NoError(t, err)
	_, err = m.GetVolume("busy")
	assert.NoError(t, err)
}

func TestPruneVolumesForceRemovesIdleOnly(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateVolume("idle", "", nil, nil)
	require.NoError(t, err)
	_, err = m.CreateVolume("busy", "", nil, nil)
	require.NoError(t, err)

	busy, err := m.GetVolume("busy")
	require.NoError(t, err)
	busy.RefCount = 1

	result, err := m.PruneVolumes(true)
	require.NoError(t, err)
	assert.Contains(t, result.Removed, "idle")
	assert.NotContains(t, result.Removed, "busy")

	_, err = m.GetVolume("idle")
	assert.Error(t, err, "force prune should have actually removed the idle volume")
	_, err = m.GetVolume("busy")
	assert.NoError(t, err, "in-use volume must survive even a force prune")
}

func TestScanReconcilesExistingDirectories(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "preexisting"), 0o755))

	m, err := NewManager(base)
	require.NoError(t, err)

	vol, err := m.GetVolume("preexisting")
	require.NoError(t, err)
	assert.Equal(t, 0, vol.RefCount)
}
