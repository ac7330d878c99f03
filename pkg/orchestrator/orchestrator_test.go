package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/image"
	"github.com/wendelmax/polis/pkg/runtime"
	"github.com/wendelmax/polis/pkg/security"
	"github.com/wendelmax/polis/pkg/types"
	"github.com/wendelmax/polis/pkg/volume"
)

// fakeDriver is a minimal runtime.ContainerDriver that never touches
// containerd, so the deployment/convergence logic can run without root.
type fakeDriver struct {
	mu      sync.Mutex
	running map[types.ContainerId]bool
}

func newFakeDriver() *fakeDriver { return &fakeDriver{running: make(map[types.ContainerId]bool)} }

func (f *fakeDriver) Pull(ctx context.Context, imageRef string) error { return nil }

func (f *fakeDriver) Create(ctx context.Context, c *types.Container, profile *types.SecurityProfile, mounts []specs.Mount) error {
	return nil
}

func (f *fakeDriver) Start(ctx context.Context, id types.ContainerId) (int, <-chan runtime.ExitStatus, error) {
	f.mu.Lock()
	f.running[id] = true
	f.mu.Unlock()
	return 1234, make(chan runtime.ExitStatus, 1), nil
}

func (f *fakeDriver) Signal(ctx context.Context, id types.ContainerId, sig syscall.Signal) error {
	return nil
}

func (f *fakeDriver) Pause(ctx context.Context, id types.ContainerId) error  { return nil }
func (f *fakeDriver) Resume(ctx context.Context, id types.ContainerId) error { return nil }
func (f *fakeDriver) Delete(ctx context.Context, id types.ContainerId) error {
	f.mu.Lock()
	delete(f.running, id)
	f.mu.Unlock()
	return nil
}

func newTestEngine(t *testing.T) *runtime.Engine {
	t.Helper()
	images, err := image.NewStore(t.TempDir(), config.Registries{AllowSyntheticFallback: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = images.Close() })

	volumes, err := volume.NewManager(t.TempDir())
	require.NoError(t, err)

	composer := security.NewComposer()
	return runtime.NewEngine(newFakeDriver(), images, volumes, composer, 50*time.Millisecond)
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return NewOrchestrator(newTestEngine(t), Options{
		StatePath:        filepath.Join(t.TempDir(), "orchestrator_state.json"),
		ConvergeInterval: 20 * time.Millisecond,
		EvaluateInterval: 20 * time.Millisecond,
	})
}

func TestDeployRejectsDuplicateNameNamespace(t *testing.T) {
	o := newTestOrchestrator(t)
	spec := DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 2}

	_, err := o.Deploy(spec)
	require.NoError(t, err)

	_, err = o.Deploy(spec)
	assert.Error(t, err)
}

func TestDeployPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	engine := newTestEngine(t)
	o := NewOrchestrator(engine, Options{StatePath: path})

	_, err := o.Deploy(DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 3})
	require.NoError(t, err)

	reloaded := NewOrchestrator(engine, Options{StatePath: path})
	d, err := reloaded.GetStatus("web", "default")
	require.NoError(t, err)
	assert.Equal(t, 3, d.DesiredReplicas)
}

func TestConvergeCreatesMissingReplicas(t *testing.T) {
	o := newTestOrchestrator(t)
	d, err := o.Deploy(DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 3})
	require.NoError(t, err)

	require.NoError(t, o.convergeOne(context.Background(), d.ID))

	status, err := o.GetStatus("web", "default")
	require.NoError(t, err)
	assert.Equal(t, 3, status.CurrentReplicas)
	assert.Equal(t, types.DeploymentStatusRunning, status.Status)
}

func TestScaleDownRemovesHighestNumberedFirst(t *testing.T) {
	o := newTestOrchestrator(t)
	d, err := o.Deploy(DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 3})
	require.NoError(t, err)
	require.NoError(t, o.convergeOne(context.Background(), d.ID))

	_, err = o.Scale("web", "default", 1)
	require.NoError(t, err)
	require.NoError(t, o.convergeOne(context.Background(), d.ID))

	remaining := o.containersForDeployment(d.ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, 0, replicaIndexOf(remaining[0]))

	status, err := o.GetStatus("web", "default")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentReplicas)
}

func TestDeleteStopsAndRemovesAllReplicas(t *testing.T) {
	o := newTestOrchestrator(t)
	d, err := o.Deploy(DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 2})
	require.NoError(t, err)
	require.NoError(t, o.convergeOne(context.Background(), d.ID))

	require.NoError(t, o.Delete("web", "default"))

	_, err = o.GetStatus("web", "default")
	assert.Error(t, err)
	assert.Empty(t, o.containersForDeployment(d.ID))
}

func TestGetStatsAggregatesAcrossDeployments(t *testing.T) {
	o := newTestOrchestrator(t)
	d1, err := o.Deploy(DeploymentSpec{Name: "web", Namespace: "default", Image: "docker.io/nginx:latest", DesiredReplicas: 2,
		ScalingPolicy: &types.ScalingPolicy{Enabled: true, MinReplicas: 1, MaxReplicas: 5}})
	require.NoError(t, err)
	_, err = o.Deploy(DeploymentSpec{Name: "worker", Namespace: "default", Image: "docker.io/redis:latest", DesiredReplicas: 1})
	require.NoError(t, err)

	require.NoError(t, o.convergeOne(context.Background(), d1.ID))

	stats := o.GetStats()
	assert.Equal(t, 2, stats.TotalDeployments)
	assert.Equal(t, 1, stats.AutoScalingEnabled)
	assert.GreaterOrEqual(t, stats.TotalReplicas, 2)
}
