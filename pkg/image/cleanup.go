package image

import (
	"github.com/docker/go-units"

	"github.com/wendelmax/polis/pkg/types"
)

// Cleanup removes cached images matching opts and reports what was (or,
// in dry-run, would be) removed (§4.2). "Dangling" images have no name;
// "untagged" images have no tag, or carry the default "latest" tag when
// keep_latest is false.
func (s *Store) Cleanup(opts types.CleanupOptions) (types.CleanupStats, error) {
	images, err := s.ListImages()
	if err != nil {
		return types.CleanupStats{}, err
	}

	var stats types.CleanupStats
	for _, img := range images {
		dangling := img.Name == "" || img.Name == "unknown"
		untagged := img.Tag == "" || (img.Tag == "latest" && !opts.KeepLatest)

		shouldRemove := (opts.RemoveDangling && dangling) || (opts.RemoveUntagged && untagged)
		if !shouldRemove && opts.OlderThan != nil {
			shouldRemove = img.CreatedAt.Before(cutoffBefore(*opts.OlderThan))
		}
		if !shouldRemove {
			continue
		}

		if opts.DryRun {
			stats.ImagesRemoved++
			stats.SpaceFreed += img.Size
			stats.LayersRemoved += len(img.Layers)
			if dangling {
				stats.DanglingRemoved++
			}
			if untagged {
				stats.UntaggedRemoved++
			}
			continue
		}

		if err := s.RemoveImage(img.ID); err != nil {
			if !opts.Force {
				return stats, err
			}
			s.logger.Warn().Str("image_id", string(img.ID)).Err(err).Msg("cleanup: forced past removal failure")
			continue
		}

		stats.ImagesRemoved++
		stats.SpaceFreed += img.Size
		stats.LayersRemoved += len(img.Layers)
		if dangling {
			stats.DanglingRemoved++
		}
		if untagged {
			stats.UntaggedRemoved++
		}
	}

	s.logger.Info().
		Int("images_removed", stats.ImagesRemoved).
		Str("space_freed", units.HumanSize(float64(stats.SpaceFreed))).
		Bool("dry_run", opts.DryRun).
		Msg("image cleanup complete")

	return stats, nil
}
