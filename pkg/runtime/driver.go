package runtime

import (
	"context"
	"syscall"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/wendelmax/polis/pkg/types"
)

// ExitStatus is what a ContainerDriver reports when a supervised task's
// primary process exits, however it exited.
type ExitStatus struct {
	Code     int
	ExitedAt time.Time
}

// ContainerDriver is the execution backend Engine drives through the
// §4.1 state machine. It knows nothing about Created/Paused/Removed —
// that bookkeeping is Engine's job; the driver only spawns, signals,
// and tears down the real OS-level process.
type ContainerDriver interface {
	// Pull ensures imageRef's layers are present in the driver's own
	// content store, independent of C2's cache (§4.2 materializes for
	// listing/search; the driver still needs its own unpacked snapshot
	// to create a container from).
	Pull(ctx context.Context, imageRef string) error

	// Create builds the OCI bundle for c and registers it with the
	// driver, but does not start any process.
	Create(ctx context.Context, c *types.Container, profile *types.SecurityProfile, mounts []specs.Mount) error

	// Start launches the container's task and returns its OS PID and a
	// channel that receives exactly one ExitStatus when the task exits.
	Start(ctx context.Context, id types.ContainerId) (pid int, exitCh <-chan ExitStatus, err error)

	// Signal delivers sig to the running task.
	Signal(ctx context.Context, id types.ContainerId, sig syscall.Signal) error

	// Pause/Resume freeze and thaw the task's cgroup.
	Pause(ctx context.Context, id types.ContainerId) error
	Resume(ctx context.Context, id types.ContainerId) error

	// Delete tears down the task (if any) and the container's
	// snapshot. Deleting an unknown container is a no-op.
	Delete(ctx context.Context, id types.ContainerId) error
}
