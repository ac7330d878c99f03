package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/types"
)

func TestCreateContainerProfileDefaults(t *testing.T) {
	c := NewComposer()
	p, err := c.CreateContainerProfile("c1")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"pid", "net", "ipc", "uts", "mount"}, p.Namespaces)
	assert.Contains(t, p.Capabilities, "CHOWN")
	assert.Contains(t, p.Capabilities, "NET_BIND_SERVICE")
	assert.True(t, p.SandboxConfig.NoNewPrivileges)
	assert.False(t, p.SandboxConfig.ReadOnlyRootfs)
	assert.Contains(t, p.SandboxConfig.MaskedPaths, "/proc/kcore")
	assert.Contains(t, p.SandboxConfig.TmpfsMounts, "/tmp")
}

func TestCreateHighSecurityProfile(t *testing.T) {
	c := NewComposer()
	p, err := c.CreateHighSecurityProfile("c2")
	require.NoError(t, err)

	assert.Contains(t, p.Namespaces, "user")
	assert.True(t, p.SandboxConfig.ReadOnlyRootfs)
	assert.NotContains(t, p.Capabilities, "SETPCAP")
	assert.Contains(t, p.SandboxConfig.MaskedPaths, "/proc/kmsg")
}

func TestCreatePrivilegedProfile(t *testing.T) {
	c := NewComposer()
	p, err := c.CreatePrivilegedProfile("c3")
	require.NoError(t, err)

	assert.Equal(t, []string{"ALL"}, p.Capabilities)
	assert.False(t, p.SandboxConfig.ReadOnlyRootfs)
	assert.False(t, p.SandboxConfig.NoNewPrivileges)
	assert.Empty(t, p.SandboxConfig.MaskedPaths)
	assert.Empty(t, p.SandboxConfig.ReadonlyPaths)
}

func TestGetContainerProfileMissing(t *testing.T) {
	c := NewComposer()
	_, err := c.GetContainerProfile("nope")
	assert.Error(t, err)
}

func TestUpdateCgroupLimitsAndCapabilities(t *testing.T) {
	c := NewComposer()
	_, err := c.CreateContainerProfile("c4")
	require.NoError(t, err)

	require.NoError(t, c.UpdateCgroupLimits("c4", types.ResourceLimits{MemoryLimit: 1024}))
	require.NoError(t, c.UpdateCapabilities("c4", []string{"CHOWN"}))

	p, err := c.GetContainerProfile("c4")
	require.NoError(t, err)
	assert.EqualValues(t, 1024, p.CgroupLimits.MemoryLimit)
	assert.Equal(t, []string{"CHOWN"}, p.Capabilities)
}

func TestUpdateOnMissingProfile(t *testing.T) {
	c := NewComposer()
	assert.Error(t, c.UpdateCgroupLimits("missing", types.ResourceLimits{}))
	assert.Error(t, c.UpdateCapabilities("missing", nil))
}

func TestRemoveContainerProfile(t *testing.T) {
	c := NewComposer()
	_, err := c.CreateContainerProfile("c5")
	require.NoError(t, err)

	require.NoError(t, c.RemoveContainerProfile("c5"))
	_, err = c.GetContainerProfile("c5")
	assert.Error(t, err)

	// removing again is a no-op, not an error
	require.NoError(t, c.RemoveContainerProfile("c5"))
}

func TestListContainerProfiles(t *testing.T) {
	c := NewComposer()
	_, _ = c.CreateContainerProfile("a")
	_, _ = c.CreateContainerProfile("b")

	list := c.ListContainerProfiles()
	assert.Len(t, list, 2)
}

func TestGetStatusReflectsContainerCount(t *testing.T) {
	c := NewComposer()
	_, _ = c.CreateContainerProfile("a")

	st := c.GetStatus()
	assert.Equal(t, 1, st.ContainerCount)
	assert.True(t, st.NamespacesAvailable)
}
