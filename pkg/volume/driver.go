package volume

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/moby/sys/mountinfo"

	"github.com/wendelmax/polis/pkg/types"
)

// Driver is the capability set every volume backend implements (§4.4,
// §9 "model drivers as a capability set"). Local is the only backend
// Polis ships; the interface exists so a future NFS/CIFS/bind/tmpfs
// driver can be selected by VolumeDriverKind without touching Manager.
type Driver interface {
	Create(name string, opts map[string]string) (mountpoint string, err error)
	Remove(name string) error
	Mount(name, target string, opts types.MountOptions) error
	Unmount(name, target string) error
	Stats(name string) (types.VolumeStats, error)
	List() ([]string, error)
}

// DefaultVolumesPath is the base directory for the Local driver,
// matching §6's <root>/volumes/local/<name> layout.
const DefaultVolumesPath = "/var/lib/polis/volumes/local"

// LocalDriver bind-mounts a directory tree under basePath into
// containers. Mount/Unmount perform a real bind mount, verified via
// moby/sys/mountinfo.
type LocalDriver struct {
	basePath string
}

// NewLocalDriver constructs a LocalDriver rooted at basePath (or
// DefaultVolumesPath if empty), creating the root if missing.
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create volumes root: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

func (d *LocalDriver) path(name string) string {
	return filepath.Join(d.basePath, name)
}

// Create makes the volume's directory tree (recursive) and returns it.
func (d *LocalDriver) Create(name string, opts map[string]string) (string, error) {
	path := d.path(name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create volume directory: %w", err)
	}
	return path, nil
}

// Remove deletes the volume's directory tree (recursive). Idempotent.
func (d *LocalDriver) Remove(name string) error {
	path := d.path(name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove volume directory: %w", err)
	}
	return nil
}

// Mount bind-mounts the volume's directory at target, applying the
// options §4.4 requires drivers to honor. Options the Local driver
// cannot express (uid/gid/mode remap, user/group) are reported as an
// error rather than silently ignored, per §4.4.
func (d *LocalDriver) Mount(name, target string, opts types.MountOptions) error {
	source := d.path(name)
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("volume %q does not exist on disk: %w", name, err)
	}
	if opts.UID != nil || opts.GID != nil || opts.Mode != nil || opts.User != "" || opts.Group != "" {
		return fmt.Errorf("local driver does not support uid/gid/mode/user/group remap")
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("create mount target: %w", err)
	}

	var flags uintptr = syscall.MS_BIND
	if err := syscall.Mount(source, target, "", flags, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", source, target, err)
	}

	// Apply read-only/noexec/nodev/nosuid with a remount pass; a plain
	// bind mount ignores most flags on the initial call.
	remountFlags := syscall.MS_BIND | syscall.MS_REMOUNT
	if opts.ReadOnly {
		remountFlags |= syscall.MS_RDONLY
	}
	if opts.NoExec {
		remountFlags |= syscall.MS_NOEXEC
	}
	if opts.NoDev {
		remountFlags |= syscall.MS_NODEV
	}
	if opts.NoSuid {
		remountFlags |= syscall.MS_NOSUID
	}
	if remountFlags != syscall.MS_BIND|syscall.MS_REMOUNT {
		if err := syscall.Mount(source, target, "", uintptr(remountFlags), ""); err != nil {
			_ = syscall.Unmount(target, 0)
			return fmt.Errorf("remount %s with options: %w", target, err)
		}
	}

	mounted, err := mountinfo.Mounted(target)
	if err != nil {
		return fmt.Errorf("verify mount at %s: %w", target, err)
	}
	if !mounted {
		return fmt.Errorf("mount at %s did not take effect", target)
	}
	return nil
}

// Unmount detaches target and verifies it is no longer mounted.
func (d *LocalDriver) Unmount(name, target string) error {
	if err := syscall.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	mounted, err := mountinfo.Mounted(target)
	if err != nil {
		return fmt.Errorf("verify unmount at %s: %w", target, err)
	}
	if mounted {
		return fmt.Errorf("unmount at %s did not take effect", target)
	}
	return nil
}

// Stats walks the volume's directory tree to compute its size, the way
// §4.4 requires for the Local driver.
func (d *LocalDriver) Stats(name string) (types.VolumeStats, error) {
	path := d.path(name)
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return types.VolumeStats{}, fmt.Errorf("walk volume %q (%s): %w", name, units.HumanSize(float64(size)), err)
	}

	var avail int64
	var fs syscall.Statfs_t
	if err := syscall.Statfs(path, &fs); err == nil {
		avail = int64(fs.Bavail) * int64(fs.Bsize)
	}

	return types.VolumeStats{
		Size:      size,
		Used:      size,
		Available: avail,
	}, nil
}

// List enumerates volume names present under basePath.
func (d *LocalDriver) List() ([]string, error) {
	entries, err := os.ReadDir(d.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list volumes: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// createdAt reports a directory's creation time, best-effort, used by
// the startup scan to backfill Volume.CreatedAt for pre-existing
// volumes that predate the current process.
func createdAt(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
