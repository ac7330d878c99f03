package volume

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/metrics"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

// Manager owns the volume registry and the ref-counted mount
// bookkeeping: routing every call straight to a driver leaves no notion
// of "is this volume in use", so a deployment could be removed
// mid-mount. Manager adds that layer on top of the driver capability
// set.
type Manager struct {
	mu      sync.RWMutex
	volumes map[string]*types.Volume
	drivers map[types.VolumeDriverKind]Driver
	mounts  map[string]map[string]struct{} // volume name -> set of active mount targets
	logger  zerolog.Logger
}

// NewManager constructs a Manager backed by a Local driver rooted at
// basePath (DefaultVolumesPath if empty), then runs the startup scan
// described in §4.4 / §6 to reconcile the in-memory registry with
// whatever volume directories already exist on disk.
func NewManager(basePath string) (*Manager, error) {
	local, err := NewLocalDriver(basePath)
	if err != nil {
		return nil, fmt.Errorf("init local volume driver: %w", err)
	}

	m := &Manager{
		volumes: make(map[string]*types.Volume),
		drivers: map[types.VolumeDriverKind]Driver{
			types.VolumeDriverLocal: local,
		},
		mounts: make(map[string]map[string]struct{}),
		logger: log.WithComponent("volume"),
	}

	if err := m.scan(); err != nil {
		return nil, err
	}
	return m, nil
}

// scan reconstructs the registry from whatever the Local driver finds
// on disk. Ref-counts always start at 0 on a fresh process: a prior
// process's live mounts do not survive a restart in this model, the
// same way the runtime engine re-derives container state from
// containerd on startup rather than trusting stale bookkeeping.
func (m *Manager) scan() error {
	local := m.drivers[types.VolumeDriverLocal]
	names, err := local.List()
	if err != nil {
		return fmt.Errorf("scan local volumes: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		if _, ok := m.volumes[name]; ok {
			continue
		}
		mountpoint, err := local.Create(name, nil)
		if err != nil {
			return fmt.Errorf("reconcile volume %q: %w", name, err)
		}
		m.volumes[name] = &types.Volume{
			Name:       name,
			Driver:     types.VolumeDriverLocal,
			Mountpoint: mountpoint,
			CreatedAt:  createdAt(mountpoint),
			RefCount:   0,
		}
	}
	return nil
}

func (m *Manager) driverFor(kind types.VolumeDriverKind) (Driver, error) {
	d, ok := m.drivers[kind]
	if !ok {
		return nil, perr.Newf(perr.Storage, "create_volume", "unsupported volume driver %q", kind)
	}
	return d, nil
}

// CreateVolume registers a new named volume and asks its driver to
// provision storage for it. A duplicate name is rejected rather than
// silently reused.
func (m *Manager) CreateVolume(name string, kind types.VolumeDriverKind, opts, labels map[string]string) (*types.Volume, error) {
	if kind == "" {
		kind = types.VolumeDriverLocal
	}

	m.mu.Lock()
	if _, exists := m.volumes[name]; exists {
		m.mu.Unlock()
		return nil, perr.Newf(perr.Storage, "create_volume", "volume %q already exists", name)
	}
	m.mu.Unlock()

	driver, err := m.driverFor(kind)
	if err != nil {
		return nil, err
	}

	mountpoint, err := driver.Create(name, opts)
	if err != nil {
		return nil, perr.New(perr.Storage, "create_volume", err)
	}

	vol := &types.Volume{
		Name:       name,
		Driver:     kind,
		Mountpoint: mountpoint,
		CreatedAt:  time.Now(),
		Options:    opts,
		Labels:     labels,
		RefCount:   0,
	}

	m.mu.Lock()
	m.volumes[name] = vol
	m.refreshVolumesGaugeLocked()
	m.mu.Unlock()

	m.logger.Info().Str("volume", name).Msg("volume created")
	return vol, nil
}

// refreshVolumesGaugeLocked recomputes the total volume gauge. Callers
// must hold m.mu.
func (m *Manager) refreshVolumesGaugeLocked() {
	metrics.VolumesTotal.Set(float64(len(m.volumes)))
}

// RemoveVolume deletes a volume's storage and drops it from the
// registry. A volume currently mounted anywhere (RefCount > 0) is
// refused unless force is set, per §4.4's "never remove a volume
// in_use" invariant.
func (m *Manager) RemoveVolume(name string, force bool) error {
	m.mu.Lock()
	vol, ok := m.volumes[name]
	if !ok {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "remove_volume", "volume %q not found", name)
	}
	if vol.InUse() && !force {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "remove_volume", "volume %q is in use (ref_count=%d)", name, vol.RefCount)
	}
	m.mu.Unlock()

	driver, err := m.driverFor(vol.Driver)
	if err != nil {
		return err
	}
	if err := driver.Remove(name); err != nil {
		return perr.New(perr.Storage, "remove_volume", err)
	}

	m.mu.Lock()
	delete(m.volumes, name)
	delete(m.mounts, name)
	m.refreshVolumesGaugeLocked()
	m.mu.Unlock()

	m.logger.Info().Str("volume", name).Bool("forced", force).Msg("volume removed")
	return nil
}

// MountVolume bind-mounts the volume at target and increments its
// ref-count. Mounting the same (volume, target) pair twice is rejected
// rather than double-counted.
func (m *Manager) MountVolume(name, target string, opts types.MountOptions) error {
	m.mu.Lock()
	vol, ok := m.volumes[name]
	if !ok {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "mount_volume", "volume %q not found", name)
	}
	if _, mounted := m.mounts[name][target]; mounted {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "mount_volume", "volume %q already mounted at %s", name, target)
	}
	driver, err := m.driverFor(vol.Driver)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	err = driver.Mount(name, target, opts)
	timer.ObserveDuration(metrics.VolumeMountDuration)
	if err != nil {
		return perr.New(perr.Storage, "mount_volume", err)
	}

	m.mu.Lock()
	vol.RefCount++
	if m.mounts[name] == nil {
		m.mounts[name] = make(map[string]struct{})
	}
	m.mounts[name][target] = struct{}{}
	m.mu.Unlock()

	m.logger.Debug().Str("volume", name).Str("target", target).Int("ref_count", vol.RefCount).Msg("volume mounted")
	return nil
}

// UnmountVolume detaches target and decrements the volume's ref-count.
// The count never goes negative: unmounting a target that was not
// tracked as mounted is an error rather than a silent no-op, so a
// caller's bookkeeping bug surfaces instead of corrupting the count.
func (m *Manager) UnmountVolume(name, target string) error {
	m.mu.Lock()
	vol, ok := m.volumes[name]
	if !ok {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "unmount_volume", "volume %q not found", name)
	}
	if _, mounted := m.mounts[name][target]; !mounted {
		m.mu.Unlock()
		return perr.Newf(perr.Storage, "unmount_volume", "volume %q is not mounted at %s", name, target)
	}
	driver, err := m.driverFor(vol.Driver)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := driver.Unmount(name, target); err != nil {
		return perr.New(perr.Storage, "unmount_volume", err)
	}

	m.mu.Lock()
	delete(m.mounts[name], target)
	if vol.RefCount > 0 {
		vol.RefCount--
	}
	m.mu.Unlock()

	m.logger.Debug().Str("volume", name).Str("target", target).Int("ref_count", vol.RefCount).Msg("volume unmounted")
	return nil
}

// GetVolume returns the registered volume by name.
func (m *Manager) GetVolume(name string) (*types.Volume, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vol, ok := m.volumes[name]
	if !ok {
		return nil, perr.Newf(perr.Storage, "get_volume", "volume %q not found", name)
	}
	return vol, nil
}

// ListVolumes returns a snapshot of every registered volume.
func (m *Manager) ListVolumes() []*types.Volume {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Volume, 0, len(m.volumes))
	for _, v := range m.volumes {
		out = append(out, v)
	}
	return out
}

// GetVolumeStats reports on-disk usage for a volume via its driver,
// folding in the registry's ref-count/mount-count view.
func (m *Manager) GetVolumeStats(name string) (types.VolumeStats, error) {
	m.mu.RLock()
	vol, ok := m.volumes[name]
	if !ok {
		m.mu.RUnlock()
		return types.VolumeStats{}, perr.Newf(perr.Storage, "volume_stats", "volume %q not found", name)
	}
	driver, err := m.driverFor(vol.Driver)
	refCount := vol.RefCount
	m.mu.RUnlock()
	if err != nil {
		return types.VolumeStats{}, err
	}

	stats, err := driver.Stats(name)
	if err != nil {
		return types.VolumeStats{}, perr.New(perr.Storage, "volume_stats", err)
	}
	stats.InUse = refCount > 0
	stats.MountCount = refCount
	return stats, nil
}

// PruneResult summarizes a PruneVolumes pass.
type PruneResult struct {
	Removed    []string
	SpaceFreed int64
}

// PruneVolumes reports on (and, with force set, removes) every volume
// with RefCount == 0. Volumes currently in use are never candidates,
// regardless of force. Without force this is a dry run: it computes
// the same Removed/SpaceFreed a real prune would report, but deletes
// nothing.
func (m *Manager) PruneVolumes(force bool) (PruneResult, error) {
	m.mu.RLock()
	var candidates []*types.Volume
	for _, v := range m.volumes {
		if !v.InUse() {
			candidates = append(candidates, v)
		}
	}
	m.mu.RUnlock()

	var result PruneResult
	for _, v := range candidates {
		stats, statErr := m.GetVolumeStats(v.Name)
		var size int64
		if statErr == nil {
			size = stats.Size
		}

		if force {
			if err := m.RemoveVolume(v.Name, false); err != nil {
				m.logger.Warn().Str("volume", v.Name).Err(err).Msg("prune skipped volume")
				continue
			}
		}

		result.Removed = append(result.Removed, v.Name)
		result.SpaceFreed += size
	}

	if force {
		m.logger.Info().Int("removed", len(result.Removed)).Int64("space_freed", result.SpaceFreed).Msg("volume prune complete")
	} else {
		m.logger.Info().Int("would_remove", len(result.Removed)).Int64("space_freed", result.SpaceFreed).Msg("volume prune dry-run")
	}
	return result, nil
}
