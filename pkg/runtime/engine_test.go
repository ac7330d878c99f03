package runtime

import (
	"context"
	goruntime "runtime"
	"sync"
	"syscall"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/image"
	"github.com/wendelmax/polis/pkg/security"
	"github.com/wendelmax/polis/pkg/types"
	"github.com/wendelmax/polis/pkg/volume"
)

// fakeDriver is a ContainerDriver that never touches containerd or the
// network, so Engine's state machine can be exercised without root.
type fakeDriver struct {
	mu            sync.Mutex
	created       map[types.ContainerId]bool
	running       map[types.ContainerId]chan ExitStatus
	paused        map[types.ContainerId]bool
	pullErr       error
	startErr      error
	ignoreSIGTERM bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		created: make(map[types.ContainerId]bool),
		running: make(map[types.ContainerId]chan ExitStatus),
		paused:  make(map[types.ContainerId]bool),
	}
}

func (f *fakeDriver) Pull(ctx context.Context, imageRef string) error { return f.pullErr }

func (f *fakeDriver) Create(ctx context.Context, c *types.Container, profile *types.SecurityProfile, mounts []specs.Mount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created[c.ID] = true
	return nil
}

func (f *fakeDriver) Start(ctx context.Context, id types.ContainerId) (int, <-chan ExitStatus, error) {
	if f.startErr != nil {
		return 0, nil, f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan ExitStatus, 1)
	f.running[id] = ch
	return 4242, ch, nil
}

func (f *fakeDriver) Signal(ctx context.Context, id types.ContainerId, sig syscall.Signal) error {
	f.mu.Lock()
	ch, ok := f.running[id]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	if sig == syscall.SIGTERM && f.ignoreSIGTERM {
		return nil
	}
	if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
		select {
		case ch <- ExitStatus{Code: 0, ExitedAt: time.Now()}:
		default:
		}
	}
	return nil
}

func (f *fakeDriver) Pause(ctx context.Context, id types.ContainerId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused[id] = true
	return nil
}

func (f *fakeDriver) Resume(ctx context.Context, id types.ContainerId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.paused, id)
	return nil
}

func (f *fakeDriver) Delete(ctx context.Context, id types.ContainerId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.created, id)
	delete(f.running, id)
	return nil
}

func newTestEngine(t *testing.T, driver *fakeDriver) *Engine {
	t.Helper()
	images, err := image.NewStore(t.TempDir(), config.Registries{AllowSyntheticFallback: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = images.Close() })

	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)

	composer := security.NewComposer()

	return NewEngine(driver, images, volumes, composer, 50*time.Millisecond)
}

func TestCreateContainerRejectsDuplicateName(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	_, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	_, err = e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	assert.Error(t, err)
}

func TestCreateContainerRejectsMemorySwapWithoutMemoryLimit(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	_, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{
		ResourceLimits: types.ResourceLimits{MemorySwap: 512 * 1024 * 1024},
	})
	assert.Error(t, err)
}

func TestCreateContainerRejectsCPUQuotaAboveCoreCount(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	_, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{
		ResourceLimits: types.ResourceLimits{CPUQuota: float64(goruntime.NumCPU()) + 1},
	})
	assert.Error(t, err)
}

func TestCreateContainerStartsInCreatedState(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusCreated, c.Status)
	assert.Nil(t, c.StartedAt)
}

func TestStartContainerTransitionsToRunning(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, e.StartContainer(context.Background(), id))

	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, c.Status)
	assert.Equal(t, 4242, c.PID)
	assert.NotNil(t, c.StartedAt)
}

func TestStartContainerRejectsNonCreatedSource(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.StartContainer(context.Background(), id))

	err = e.StartContainer(context.Background(), id)
	assert.Error(t, err)
}

func TestStopContainerRecordsExitCode(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.StartContainer(context.Background(), id))

	require.NoError(t, e.StopContainer(context.Background(), id))

	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusStopped, c.Status)
	require.NotNil(t, c.ExitCode)
	assert.Equal(t, 0, *c.ExitCode)
	assert.NotNil(t, c.FinishedAt)
}

func TestStopContainerOnNonRunningFails(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	assert.Error(t, e.StopContainer(context.Background(), id))
}

func TestPauseAndUnpauseRoundTrip(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.StartContainer(context.Background(), id))

	require.NoError(t, e.PauseContainer(context.Background(), id))
	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusPaused, c.Status)
	assert.Nil(t, c.ExitCode)

	require.NoError(t, e.UnpauseContainer(context.Background(), id))
	c, err = e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusRunning, c.Status)
}

func TestPauseRejectsNonRunning(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	assert.Error(t, e.PauseContainer(context.Background(), id))
}

func TestRemoveContainerRequiresCreatedOrStopped(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.StartContainer(context.Background(), id))

	err = e.RemoveContainer(context.Background(), id)
	assert.Error(t, err)

	require.NoError(t, e.StopContainer(context.Background(), id))
	require.NoError(t, e.RemoveContainer(context.Background(), id))

	_, err = e.GetContainer(id)
	assert.Error(t, err)
}

func TestRemoveContainerFromCreatedSucceeds(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	require.NoError(t, e.RemoveContainer(context.Background(), id))
	_, err = e.GetContainer(id)
	assert.Error(t, err)
}

func TestListContainersReturnsSnapshot(t *testing.T) {
	e := newTestEngine(t, newFakeDriver())
	_, err := e.CreateContainer("a", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	_, err = e.CreateContainer("b", "docker.io/redis:latest", nil, CreateOptions{})
	require.NoError(t, err)

	list := e.ListContainers()
	assert.Len(t, list, 2)
}

func TestStartContainerFailureLeavesRowCreated(t *testing.T) {
	driver := newFakeDriver()
	driver.startErr = assert.AnError
	e := newTestEngine(t, driver)

	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)

	err = e.StartContainer(context.Background(), id)
	assert.Error(t, err)

	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusCreated, c.Status)
}

func TestStopContainerEscalatesAfterTimeout(t *testing.T) {
	driver := newFakeDriver()
	e := newTestEngine(t, driver)
	id, err := e.CreateContainer("web", "docker.io/nginx:latest", nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, e.StartContainer(context.Background(), id))

	// SIGTERM is swallowed, so StopContainer must escalate to SIGKILL
	// once stopTimeout elapses.
	driver.mu.Lock()
	driver.ignoreSIGTERM = true
	driver.mu.Unlock()

	start := time.Now()
	require.NoError(t, e.StopContainer(context.Background(), id))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	c, err := e.GetContainer(id)
	require.NoError(t, err)
	assert.Equal(t, types.ContainerStatusStopped, c.Status)
}
