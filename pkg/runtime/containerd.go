package runtime

import (
	"context"
	"fmt"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/wendelmax/polis/pkg/types"
)

const (
	DefaultNamespace  = "polis"
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdDriver is the production ContainerDriver, backed by a live
// containerd daemon connection.
type ContainerdDriver struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdDriver connects to the containerd socket at socketPath
// (DefaultSocketPath if empty) and scopes every call to namespace
// (DefaultNamespace if empty).
func NewContainerdDriver(socketPath, namespace string) (*ContainerdDriver, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to containerd at %s: %w", socketPath, err)
	}

	return &ContainerdDriver{client: client, namespace: namespace}, nil
}

func (d *ContainerdDriver) Close() error {
	return d.client.Close()
}

func (d *ContainerdDriver) Pull(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)
	if _, err := d.client.Pull(ctx, imageRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pull %s: %w", imageRef, err)
	}
	return nil
}

func (d *ContainerdDriver) Create(ctx context.Context, c *types.Container, profile *types.SecurityProfile, mounts []specs.Mount) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	image, err := d.client.GetImage(ctx, c.Image)
	if err != nil {
		return fmt.Errorf("get image %s: %w", c.Image, err)
	}

	env := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		env = append(env, k+"="+v)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if len(c.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(c.Command...))
	}
	if c.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(c.WorkingDir))
	}

	limits := c.ResourceLimits
	if limits.CPUQuota > 0 {
		period := uint64(limits.CPUPeriod)
		if period == 0 {
			period = 100000
		}
		quota := int64(limits.CPUQuota * float64(period))
		shares := uint64(limits.CPUQuota * 1024)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if limits.MemoryLimit > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(limits.MemoryLimit)))
		if limits.MemorySwap > 0 {
			opts = append(opts, oci.WithMemorySwap(limits.MemorySwap))
		}
	}
	if limits.PidsLimit > 0 {
		opts = append(opts, oci.WithPidsLimit(limits.PidsLimit))
	}

	if profile != nil {
		if len(profile.Capabilities) > 0 {
			opts = append(opts, oci.WithCapabilities(profile.Capabilities))
		}
		if profile.SandboxConfig.ReadOnlyRootfs {
			opts = append(opts, oci.WithRootFSReadonly())
		}
		if profile.SandboxConfig.NoNewPrivileges {
			opts = append(opts, oci.WithNoNewPrivileges)
		}
		// Seccomp/AppArmor/SELinux label application is handled by the
		// security composer's own host-level managers (pkg/security);
		// the driver only needs the capability and namespace shape here.
	}

	if len(mounts) > 0 {
		opts = append(opts, oci.WithMounts(mounts))
	}

	_, err = d.client.NewContainer(
		ctx,
		string(c.ID),
		containerd.WithImage(image),
		containerd.WithNewSnapshot(string(c.ID)+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	return nil
}

func (d *ContainerdDriver) Start(ctx context.Context, id types.ContainerId) (int, <-chan ExitStatus, error) {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, string(id))
	if err != nil {
		return 0, nil, fmt.Errorf("load container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return 0, nil, fmt.Errorf("create task: %w", err)
	}

	// Wait must be armed before Start, or a task that exits immediately
	// could be missed.
	statusC, err := task.Wait(namespaces.WithNamespace(context.Background(), d.namespace))
	if err != nil {
		return 0, nil, fmt.Errorf("arm task wait: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return 0, nil, fmt.Errorf("start task: %w", err)
	}

	exitCh := make(chan ExitStatus, 1)
	go func() {
		st := <-statusC
		exitCh <- ExitStatus{Code: int(st.ExitCode()), ExitedAt: st.ExitTime()}
	}()

	return int(task.Pid()), exitCh, nil
}

func (d *ContainerdDriver) Signal(ctx context.Context, id types.ContainerId, sig syscall.Signal) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, string(id))
	if err != nil {
		return fmt.Errorf("load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("get task for %s: %w", id, err)
	}
	if err := task.Kill(ctx, sig); err != nil {
		return fmt.Errorf("signal task %s: %w", id, err)
	}
	return nil
}

func (d *ContainerdDriver) Pause(ctx context.Context, id types.ContainerId) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, string(id))
	if err != nil {
		return fmt.Errorf("load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("get task for %s: %w", id, err)
	}
	if err := task.Pause(ctx); err != nil {
		return fmt.Errorf("pause task %s: %w", id, err)
	}
	return nil
}

func (d *ContainerdDriver) Resume(ctx context.Context, id types.ContainerId) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, string(id))
	if err != nil {
		return fmt.Errorf("load container %s: %w", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("get task for %s: %w", id, err)
	}
	if err := task.Resume(ctx); err != nil {
		return fmt.Errorf("resume task %s: %w", id, err)
	}
	return nil
}

func (d *ContainerdDriver) Delete(ctx context.Context, id types.ContainerId) error {
	ctx = namespaces.WithNamespace(ctx, d.namespace)

	container, err := d.client.LoadContainer(ctx, string(id))
	if err != nil {
		// Already gone; deleting is idempotent.
		return nil
	}

	if task, err := container.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("delete container %s: %w", id, err)
	}
	return nil
}
