package image

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/metrics"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

const metadataFileName = "metadata.json"

// pullCall tracks one in-flight pull so concurrent callers for the
// same (repo, tag) share a single network operation (§4.2).
type pullCall struct {
	done chan struct{}
	img  *types.Image
	err  error
}

// Store is C2's public surface: pull, list, get, remove, backed by the
// cache directory layout in §6 with metadata.json as the source of
// truth for what is visible.
type Store struct {
	cacheDir string
	registry *RegistryClient
	index    *index

	mu       sync.Mutex
	inFlight map[string]*pullCall

	logger zerolog.Logger
}

// NewStore constructs a Store rooted at cacheDir and rebuilds its
// bbolt-backed index from whatever metadata.json files already exist
// on disk.
func NewStore(cacheDir string, registries config.Registries) (*Store, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create image cache dir: %w", err)
	}

	idx, err := openIndex(cacheDir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		cacheDir: cacheDir,
		registry: NewRegistryClient(cacheDir, registries),
		index:    idx,
		inFlight: make(map[string]*pullCall),
		logger:   log.WithComponent("image-store"),
	}

	images, err := s.scanDisk()
	if err != nil {
		idx.close()
		return nil, err
	}
	if err := idx.rebuild(images); err != nil {
		idx.close()
		return nil, fmt.Errorf("rebuild image index: %w", err)
	}
	return s, nil
}

// Close releases the index's underlying bbolt handle.
func (s *Store) Close() error {
	return s.index.close()
}

// Pull fetches name, coalescing concurrent requests for the same
// (repo, tag) into a single underlying pull.
func (s *Store) Pull(ctx context.Context, name string) (*types.Image, error) {
	_, repo, tag := ParseName(name)
	key := repo + ":" + tag

	s.mu.Lock()
	if call, ok := s.inFlight[key]; ok {
		s.mu.Unlock()
		<-call.done
		return call.img, call.err
	}
	call := &pullCall{done: make(chan struct{})}
	s.inFlight[key] = call
	s.mu.Unlock()

	timer := metrics.NewTimer()
	call.img, call.err = s.registry.Pull(ctx, name)
	timer.ObserveDuration(metrics.ImagePullDuration)
	if call.err == nil {
		if err := s.index.upsert(call.img); err != nil {
			s.logger.Warn().Err(err).Msg("failed to update image index after pull")
		}
	}
	close(call.done)

	s.mu.Lock()
	delete(s.inFlight, key)
	s.mu.Unlock()

	if call.err == nil {
		s.refreshImagesGauge()
	}

	return call.img, call.err
}

// refreshImagesGauge recomputes the total image count from disk. Best
// effort: a scan failure just leaves the gauge at its previous value.
func (s *Store) refreshImagesGauge() {
	images, err := s.scanDisk()
	if err != nil {
		return
	}
	metrics.ImagesTotal.Set(float64(len(images)))
}

// ListImages enumerates every cache directory containing a
// metadata.json; a missing metadata.json means the directory is
// skipped, not reported as an error (an in-progress or aborted pull).
// The filesystem, not the index, is the source of truth for listings.
func (s *Store) ListImages() ([]*types.Image, error) {
	return s.scanDisk()
}

func (s *Store) scanDisk() ([]*types.Image, error) {
	var images []*types.Image

	err := filepath.WalkDir(s.cacheDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != metadataFileName {
			return nil
		}
		img, readErr := readMetadata(path)
		if readErr != nil {
			s.logger.Warn().Str("path", path).Err(readErr).Msg("skipping unreadable image metadata")
			return nil
		}
		images = append(images, img)
		return nil
	})
	if err != nil {
		return nil, perr.New(perr.Image, "list_images", err)
	}
	return images, nil
}

// GetImage returns the cached image with the given ID, served from the
// index when possible and falling back to a disk scan on a miss (the
// index could be behind if the cache directory was touched externally).
func (s *Store) GetImage(id types.ImageId) (*types.Image, error) {
	if img, err := s.index.get(id); err == nil && img != nil {
		return img, nil
	}

	images, err := s.ListImages()
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		if img.ID == id {
			return img, nil
		}
	}
	return nil, perr.Newf(perr.Image, "get_image", "image %q not found", id)
}

// RemoveImage deletes a cached image's directory. The directory is
// first renamed to a `.removing-` sibling so a crash mid-delete leaves
// an unambiguous marker rather than a half-deleted, still-visible
// image (rename-then-rmtree, per §4.2).
func (s *Store) RemoveImage(id types.ImageId) error {
	images, err := s.ListImages()
	if err != nil {
		return err
	}

	var target *types.Image
	for _, img := range images {
		if img.ID == id {
			target = img
			break
		}
	}
	if target == nil {
		return perr.Newf(perr.Image, "remove_image", "image %q not found", id)
	}

	dir := filepath.Join(s.cacheDir, target.Name, target.Tag)
	tmp := dir + ".removing-" + string(id)
	if err := os.Rename(dir, tmp); err != nil {
		return perr.New(perr.Image, "remove_image", fmt.Errorf("stage removal: %w", err))
	}
	if err := os.RemoveAll(tmp); err != nil {
		return perr.New(perr.Image, "remove_image", fmt.Errorf("remove staged directory: %w", err))
	}

	if err := s.index.remove(id); err != nil {
		s.logger.Warn().Err(err).Msg("failed to update image index after remove")
	}

	s.logger.Info().Str("image_id", string(id)).Str("name", target.Name).Str("tag", target.Tag).Msg("image removed")
	s.refreshImagesGauge()
	return nil
}

func readMetadata(path string) (*types.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var img types.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return nil, err
	}
	return &img, nil
}

// cutoffBefore is a small helper so cleanup's older_than comparison
// reads naturally at the call site.
func cutoffBefore(d time.Duration) time.Time {
	return time.Now().Add(-d)
}
