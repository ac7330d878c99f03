package image

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/types"
)

func newEmptyStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), config.Registries{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedImage(t *testing.T, s *Store, name, tag string, size int64, age time.Duration) *types.Image {
	t.Helper()
	img := &types.Image{
		ID:        types.ImageId(uuid.NewString()),
		Name:      name,
		Tag:       tag,
		Size:      size,
		CreatedAt: time.Now().Add(-age),
		Layers:    []string{"sha256:a", "sha256:b"},
	}
	dir := filepath.Join(s.cacheDir, name, tag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, writeMetadata(dir, img))
	require.NoError(t, s.index.upsert(img))
	return img
}

func TestCleanupRemovesDanglingImages(t *testing.T) {
	s := newEmptyStore(t)
	seedImage(t, s, "unknown", "latest", 1000, 0)
	seedImage(t, s, "nginx", "v1", 2000, 0)

	stats, err := s.Cleanup(types.CleanupOptions{RemoveDangling: true, KeepLatest: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImagesRemoved)
	assert.Equal(t, int64(1000), stats.SpaceFreed)
	assert.Equal(t, 1, stats.DanglingRemoved)

	remaining, err := s.ListImages()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "nginx", remaining[0].Name)
}

func TestCleanupRemovesUntaggedUnlessKeepLatest(t *testing.T) {
	s := newEmptyStore(t)
	seedImage(t, s, "nginx", "latest", 500, 0)
	seedImage(t, s, "nginx", "v2", 500, 0)

	stats, err := s.Cleanup(types.CleanupOptions{RemoveUntagged: true, KeepLatest: false})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImagesRemoved)
	assert.Equal(t, 1, stats.UntaggedRemoved)
}

func TestCleanupOlderThan(t *testing.T) {
	s := newEmptyStore(t)
	seedImage(t, s, "old", "v1", 10, 48*time.Hour)
	seedImage(t, s, "new", "v1", 10, time.Minute)

	olderThan := 24 * time.Hour
	stats, err := s.Cleanup(types.CleanupOptions{OlderThan: &olderThan, KeepLatest: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImagesRemoved)
}

func TestCleanupDryRunRemovesNothing(t *testing.T) {
	s := newEmptyStore(t)
	seedImage(t, s, "unknown", "latest", 100, 0)

	stats, err := s.Cleanup(types.CleanupOptions{RemoveDangling: true, DryRun: true, KeepLatest: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ImagesRemoved)

	remaining, err := s.ListImages()
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
