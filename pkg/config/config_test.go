package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsWellFormed(t *testing.T) {
	cfg := Default()
	assert.NotEmpty(t, cfg.Runtime.RootDir)
	assert.Greater(t, cfg.Runtime.ContainerTimeoutSecs, 0)
	assert.Contains(t, cfg.Registries.Registries, "docker.io")
	assert.False(t, cfg.Registries.AllowSyntheticFallback)
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "polis.yaml")
	err := os.WriteFile(path, []byte(`
runtime:
  root_dir: /tmp/polis-test
registries:
  allow_synthetic_fallback: true
`), 0o644)
	require.NoError(t, err)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/polis-test", cfg.Runtime.RootDir)
	assert.True(t, cfg.Registries.AllowSyntheticFallback)
	// Fields absent from the file keep their Default() value.
	assert.Equal(t, Default().Network.BridgeName, cfg.Network.BridgeName)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/polis.yaml")
	assert.Error(t, err)
}
