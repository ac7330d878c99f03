package runtime

import (
	"context"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/image"
	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/metrics"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/security"
	"github.com/wendelmax/polis/pkg/types"
	"github.com/wendelmax/polis/pkg/volume"
)

// stagingRoot is where a container's volume mounts are staged on the
// host before being bind-mounted into its namespace. Per-container so
// two containers sharing a volume never collide on the same path.
const stagingRoot = "/var/lib/polis/containers"

// DefaultStopTimeout is how long stop_container waits for a graceful
// exit before escalating to SIGKILL.
const DefaultStopTimeout = 10 * time.Second

// CreateOptions carries the optional fields of create_container beyond
// name/image/command.
type CreateOptions struct {
	Env            map[string]string
	WorkingDir     string
	ResourceLimits types.ResourceLimits
	NetworkMode    types.NetworkMode
	Ports          []types.PortMapping
	Volumes        []types.VolumeMount
	Labels         map[string]string
}

// supervisedTask is the process-table entry for a Running container: the
// real PID plus the machinery that lets exactly one caller (the exit
// watcher, in practice) record the final exit_code/finished_at.
type supervisedTask struct {
	pid    int
	doneCh chan struct{}
	once   sync.Once
}

// Engine owns the container table and drives the §4.1 state machine on
// top of a ContainerDriver. It is the sole mutator of every Container it
// holds; callers only ever see snapshots.
type Engine struct {
	mu         sync.Mutex
	containers map[types.ContainerId]*types.Container
	tasks      map[types.ContainerId]*supervisedTask

	driver   ContainerDriver
	images   *image.Store
	volumes  *volume.Manager
	security *security.Composer

	stopTimeout time.Duration
	logger      zerolog.Logger
}

// NewEngine constructs an Engine. stopTimeout <= 0 uses DefaultStopTimeout.
func NewEngine(driver ContainerDriver, images *image.Store, volumes *volume.Manager, composer *security.Composer, stopTimeout time.Duration) *Engine {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Engine{
		containers:  make(map[types.ContainerId]*types.Container),
		tasks:       make(map[types.ContainerId]*supervisedTask),
		driver:      driver,
		images:      images,
		volumes:     volumes,
		security:    composer,
		stopTimeout: stopTimeout,
		logger:      log.WithComponent("runtime"),
	}
}

// CreateContainer validates name uniqueness, builds a Container in the
// Created state, and persists it. It touches neither the image store
// nor the driver (§4.1).
func (e *Engine) CreateContainer(name, imageRef string, command []string, opts CreateOptions) (types.ContainerId, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerCreateDuration)

	if err := opts.ResourceLimits.Validate(goruntime.NumCPU()); err != nil {
		return "", perr.New(perr.Container, "create_container", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range e.containers {
		if c.Name == name {
			return "", perr.Newf(perr.Container, "create_container", "name %q already in use", name)
		}
	}

	networkMode := opts.NetworkMode
	if networkMode == "" {
		networkMode = types.NetworkModeBridge
	}

	id := types.ContainerId(uuid.NewString())
	c := &types.Container{
		ID:             id,
		Name:           name,
		Image:          imageRef,
		Command:        command,
		Env:            opts.Env,
		WorkingDir:     opts.WorkingDir,
		ResourceLimits: opts.ResourceLimits,
		NetworkMode:    networkMode,
		Ports:          opts.Ports,
		Volumes:        opts.Volumes,
		Labels:         opts.Labels,
		Status:         types.ContainerStatusCreated,
		CreatedAt:      time.Now(),
	}
	e.containers[id] = c
	e.refreshContainerGaugeLocked()

	e.logger.Info().Str("container_id", string(id)).Str("name", name).Msg("container created")
	return id, nil
}

// refreshContainerGaugeLocked recomputes the per-status container gauge.
// Callers must hold e.mu.
func (e *Engine) refreshContainerGaugeLocked() {
	counts := make(map[types.ContainerStatus]int)
	for _, c := range e.containers {
		counts[c.Status]++
	}
	for _, status := range []types.ContainerStatus{
		types.ContainerStatusCreated, types.ContainerStatusRunning,
		types.ContainerStatusPaused, types.ContainerStatusStopped,
	} {
		metrics.ContainersTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// StartContainer resolves the image via C2, composes a security profile
// via C3, reserves declared volumes via C4, and spawns the supervised
// child. A failure at any step leaves the row in Created and releases
// anything it had already acquired.
func (e *Engine) StartContainer(ctx context.Context, id types.ContainerId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStartDuration)

	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "start_container", "container %s not found", id)
	}
	if c.Status != types.ContainerStatusCreated {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "start_container", "container %s is %s, not created", id, status)
	}
	imageRef := c.Image
	volumeMounts := append([]types.VolumeMount(nil), c.Volumes...)
	e.mu.Unlock()

	if _, err := e.images.Pull(ctx, imageRef); err != nil {
		return perr.New(perr.Image, "start_container", err)
	}

	profile, err := e.security.CreateContainerProfile(id)
	if err != nil {
		return perr.New(perr.Security, "start_container", err)
	}

	specMounts, acquired, err := e.acquireVolumes(id, volumeMounts)
	if err != nil {
		e.releaseVolumes(id, acquired)
		return err
	}

	if err := e.driver.Pull(ctx, imageRef); err != nil {
		e.releaseVolumes(id, acquired)
		return perr.New(perr.Image, "start_container", err)
	}

	// Re-validate the row hasn't been removed or raced to another state
	// while we were doing slow I/O without the lock held.
	e.mu.Lock()
	c, ok = e.containers[id]
	if !ok || c.Status != types.ContainerStatusCreated {
		e.mu.Unlock()
		e.releaseVolumes(id, acquired)
		return perr.Newf(perr.Container, "start_container", "container %s changed state during start", id)
	}
	e.mu.Unlock()

	if err := e.driver.Create(ctx, c, profile, specMounts); err != nil {
		e.releaseVolumes(id, acquired)
		return perr.New(perr.Container, "start_container", err)
	}

	pid, exitCh, err := e.driver.Start(ctx, id)
	if err != nil {
		_ = e.driver.Delete(ctx, id)
		e.releaseVolumes(id, acquired)
		return perr.New(perr.Container, "start_container", err)
	}

	task := &supervisedTask{pid: pid, doneCh: make(chan struct{})}

	e.mu.Lock()
	now := time.Now()
	c.PID = pid
	c.StartedAt = &now
	c.Status = types.ContainerStatusRunning
	e.tasks[id] = task
	e.refreshContainerGaugeLocked()
	e.mu.Unlock()

	go e.watchExit(id, task, exitCh)

	e.logger.Info().Str("container_id", string(id)).Int("pid", pid).Msg("container started")
	return nil
}

// watchExit is the one place a task's exit_code/finished_at are ever
// recorded. task.once ensures that if this were ever invoked more than
// once for the same task, only the first call has any effect — the
// serialization the stop/exit race (§4.1) requires.
func (e *Engine) watchExit(id types.ContainerId, task *supervisedTask, exitCh <-chan ExitStatus) {
	status := <-exitCh
	task.once.Do(func() {
		e.mu.Lock()
		if c, ok := e.containers[id]; ok {
			at := status.ExitedAt
			code := status.Code
			c.FinishedAt = &at
			c.ExitCode = &code
			c.Status = types.ContainerStatusStopped
		}
		delete(e.tasks, id)
		e.refreshContainerGaugeLocked()
		e.mu.Unlock()
		close(task.doneCh)
		e.logger.Info().Str("container_id", string(id)).Int("exit_code", status.Code).Msg("container stopped")
	})
}

// StopContainer sends a graceful signal, waits up to stopTimeout, then
// escalates to SIGKILL. A Paused container is resumed first so the
// signal can actually be delivered.
func (e *Engine) StopContainer(ctx context.Context, id types.ContainerId) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerStopDuration)

	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "stop_container", "container %s not found", id)
	}
	if c.Status == types.ContainerStatusPaused {
		if err := e.driver.Resume(ctx, id); err != nil {
			e.mu.Unlock()
			return perr.New(perr.Container, "stop_container", err)
		}
		c.Status = types.ContainerStatusRunning
	}
	if c.Status != types.ContainerStatusRunning {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "stop_container", "container %s is %s, not running", id, status)
	}
	task, ok := e.tasks[id]
	e.mu.Unlock()
	if !ok {
		return perr.Newf(perr.Container, "stop_container", "no supervised process for container %s", id)
	}

	if err := e.driver.Signal(ctx, id, syscall.SIGTERM); err != nil {
		return perr.New(perr.Container, "stop_container", err)
	}

	select {
	case <-task.doneCh:
	case <-time.After(e.stopTimeout):
		if err := e.driver.Signal(ctx, id, syscall.SIGKILL); err != nil {
			return perr.New(perr.Container, "stop_container", err)
		}
		<-task.doneCh
	}
	return nil
}

// PauseContainer flips Running to Paused without touching exit_code or
// finished_at.
func (e *Engine) PauseContainer(ctx context.Context, id types.ContainerId) error {
	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "pause_container", "container %s not found", id)
	}
	if c.Status != types.ContainerStatusRunning {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "pause_container", "container %s is %s, not running", id, status)
	}
	e.mu.Unlock()

	if err := e.driver.Pause(ctx, id); err != nil {
		return perr.New(perr.Container, "pause_container", err)
	}

	e.mu.Lock()
	if c, ok := e.containers[id]; ok {
		c.Status = types.ContainerStatusPaused
	}
	e.refreshContainerGaugeLocked()
	e.mu.Unlock()
	return nil
}

// UnpauseContainer flips Paused back to Running.
func (e *Engine) UnpauseContainer(ctx context.Context, id types.ContainerId) error {
	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "unpause_container", "container %s not found", id)
	}
	if c.Status != types.ContainerStatusPaused {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "unpause_container", "container %s is %s, not paused", id, status)
	}
	e.mu.Unlock()

	if err := e.driver.Resume(ctx, id); err != nil {
		return perr.New(perr.Container, "unpause_container", err)
	}

	e.mu.Lock()
	if c, ok := e.containers[id]; ok {
		c.Status = types.ContainerStatusRunning
	}
	e.refreshContainerGaugeLocked()
	e.mu.Unlock()
	return nil
}

// RemoveContainer releases every volume ref this container held and
// deletes its row. Only legal from Created or Stopped.
func (e *Engine) RemoveContainer(ctx context.Context, id types.ContainerId) error {
	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "remove_container", "container %s not found", id)
	}
	if c.Status != types.ContainerStatusCreated && c.Status != types.ContainerStatusStopped {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "remove_container", "container %s is %s, must be created or stopped", id, status)
	}
	delete(e.containers, id)
	delete(e.tasks, id)
	volumes := append([]types.VolumeMount(nil), c.Volumes...)
	e.refreshContainerGaugeLocked()
	e.mu.Unlock()

	e.releaseVolumes(id, volumes)

	if err := e.driver.Delete(ctx, id); err != nil {
		e.logger.Warn().Str("container_id", string(id)).Err(err).Msg("remove_container: driver cleanup failed")
	}

	e.logger.Info().Str("container_id", string(id)).Msg("container removed")
	return nil
}

// GetContainer returns a point-in-time snapshot.
func (e *Engine) GetContainer(id types.ContainerId) (types.Container, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.containers[id]
	if !ok {
		return types.Container{}, perr.Newf(perr.Container, "get_container", "container %s not found", id)
	}
	return *c, nil
}

// ListContainers returns a snapshot of every row.
func (e *Engine) ListContainers() []types.Container {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Container, 0, len(e.containers))
	for _, c := range e.containers {
		out = append(out, *c)
	}
	return out
}

// acquireVolumes stages and mounts every declared VolumeMount, building
// the matching OCI bind-mount list. On partial failure it returns
// everything it DID manage to acquire so the caller can roll it back.
func (e *Engine) acquireVolumes(id types.ContainerId, mounts []types.VolumeMount) ([]specs.Mount, []types.VolumeMount, error) {
	specMounts := make([]specs.Mount, 0, len(mounts))
	acquired := make([]types.VolumeMount, 0, len(mounts))

	for _, vm := range mounts {
		staging := stagingMountPath(id, vm.Target)
		if err := os.MkdirAll(staging, 0o755); err != nil {
			return nil, acquired, perr.New(perr.Storage, "start_container", err)
		}
		if err := e.volumes.MountVolume(vm.Source, staging, types.MountOptions{ReadOnly: vm.ReadOnly}); err != nil {
			return nil, acquired, perr.New(perr.Storage, "start_container", err)
		}
		acquired = append(acquired, vm)

		mountOpts := []string{"rbind"}
		if vm.ReadOnly {
			mountOpts = append(mountOpts, "ro")
		}
		specMounts = append(specMounts, specs.Mount{
			Source:      staging,
			Destination: vm.Target,
			Type:        "bind",
			Options:     mountOpts,
		})
	}

	return specMounts, acquired, nil
}

// releaseVolumes unmounts everything in mounts, logging (not failing)
// anything it can't release: by the time remove_container runs, the
// caller has no remaining recourse but to proceed.
func (e *Engine) releaseVolumes(id types.ContainerId, mounts []types.VolumeMount) {
	for _, vm := range mounts {
		staging := stagingMountPath(id, vm.Target)
		if err := e.volumes.UnmountVolume(vm.Source, staging); err != nil {
			e.logger.Debug().Str("container_id", string(id)).Str("volume", vm.Source).Err(err).Msg("release_volumes: nothing to release")
			continue
		}
		_ = os.RemoveAll(staging)
	}
}

func stagingMountPath(id types.ContainerId, target string) string {
	sanitized := strings.ReplaceAll(strings.TrimPrefix(target, "/"), "/", "_")
	return filepath.Join(stagingRoot, string(id), "volumes", sanitized)
}
