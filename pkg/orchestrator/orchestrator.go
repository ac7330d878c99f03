package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/runtime"
	"github.com/wendelmax/polis/pkg/types"
)

const (
	// DefaultConvergeInterval is the default reconciliation tick (§4.5).
	DefaultConvergeInterval = 60 * time.Second
	// DefaultEvaluateInterval is how often the auto-scaling evaluator runs.
	DefaultEvaluateInterval = 15 * time.Second
	// DefaultStatePath is where durable state lands relative to the
	// runtime's working directory (§6 filesystem layout).
	DefaultStatePath = "data/orchestrator_state.json"

	labelDeploymentID = "polis.io/deployment-id"
	labelReplicaIndex = "polis.io/replica-index"
)

// DeploymentSpec is the input to Deploy: everything a caller supplies
// about a new deployment.
type DeploymentSpec struct {
	Name            string
	Namespace       string
	Image           string
	Command         []string
	DesiredReplicas int
	Ports           []types.PortMapping
	EnvVars         map[string]string
	Labels          map[string]string
	HealthCheck     *types.HealthCheck
	ScalingPolicy   *types.ScalingPolicy
	Resources       *types.ResourceLimits
}

// Orchestrator owns the deployment/service registry and drives C1 toward
// each deployment's desired replica count (§4.5).
type Orchestrator struct {
	mu          sync.RWMutex
	deployments map[types.DeploymentId]*types.Deployment
	services    map[types.DeploymentId]*types.Service
	byKey       map[string]types.DeploymentId // "<namespace>/<name>" -> id

	engine    *runtime.Engine
	metrics   *metricsStore
	history   *scalingHistory
	cooldowns *cooldownTracker
	broker    *Broker
	health    *healthMonitor

	statePath        string
	convergeInterval time.Duration
	evaluateInterval time.Duration

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Options configures NewOrchestrator's non-required knobs.
type Options struct {
	StatePath        string
	ConvergeInterval time.Duration
	EvaluateInterval time.Duration
}

// NewOrchestrator constructs an Orchestrator and loads any existing
// durable state from opts.StatePath (DefaultStatePath if empty).
func NewOrchestrator(engine *runtime.Engine, opts Options) *Orchestrator {
	if opts.StatePath == "" {
		opts.StatePath = DefaultStatePath
	}
	if opts.ConvergeInterval <= 0 {
		opts.ConvergeInterval = DefaultConvergeInterval
	}
	if opts.EvaluateInterval <= 0 {
		opts.EvaluateInterval = DefaultEvaluateInterval
	}

	state := loadState(opts.StatePath)
	byKey := make(map[string]types.DeploymentId, len(state.Deployments))
	for id, d := range state.Deployments {
		byKey[deploymentKey(d.Name, d.Namespace)] = id
	}

	return &Orchestrator{
		deployments:      state.Deployments,
		services:         state.Services,
		byKey:            byKey,
		engine:           engine,
		metrics:          newMetricsStore(),
		history:          newScalingHistory(),
		cooldowns:        newCooldownTracker(),
		broker:           NewBroker(),
		health:           newHealthMonitor(),
		statePath:        opts.StatePath,
		convergeInterval: opts.ConvergeInterval,
		evaluateInterval: opts.EvaluateInterval,
		logger:           log.WithComponent("orchestrator"),
		stopCh:           make(chan struct{}),
	}
}

// Start begins the convergence and auto-scaling background loops.
func (o *Orchestrator) Start(ctx context.Context) {
	o.broker.Start()
	o.wg.Add(2)
	go o.runConvergeLoop(ctx)
	go o.runEvaluateLoop(ctx)
}

// Stop halts the background loops and the event broker.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
	o.broker.Stop()
	o.health.stop()
}

// Subscribe registers a receiver for orchestrator events.
func (o *Orchestrator) Subscribe() Subscriber { return o.broker.Subscribe() }

// Unsubscribe removes a receiver registered with Subscribe.
func (o *Orchestrator) Unsubscribe(sub Subscriber) { o.broker.Unsubscribe(sub) }

func deploymentKey(name, namespace string) string {
	return namespace + "/" + name
}

// Deploy registers a new Deployment (§4.5 step 1-3). The convergence
// loop, not Deploy itself, brings up the replicas.
func (o *Orchestrator) Deploy(spec DeploymentSpec) (types.Deployment, error) {
	if spec.Namespace == "" {
		spec.Namespace = "default"
	}
	if spec.DesiredReplicas <= 0 {
		spec.DesiredReplicas = 1
	}

	o.mu.Lock()
	key := deploymentKey(spec.Name, spec.Namespace)
	if _, exists := o.byKey[key]; exists {
		o.mu.Unlock()
		return types.Deployment{}, perr.Newf(perr.Storage, "deploy_deployment", "deployment %s/%s already exists", spec.Namespace, spec.Name)
	}

	now := time.Now()
	id := types.DeploymentId(uuid.NewString())
	d := &types.Deployment{
		ID:              id,
		Name:            spec.Name,
		Namespace:       spec.Namespace,
		Image:           spec.Image,
		Command:         spec.Command,
		DesiredReplicas: spec.DesiredReplicas,
		Status:          types.DeploymentStatusPending,
		Ports:           spec.Ports,
		EnvVars:         spec.EnvVars,
		Labels:          spec.Labels,
		HealthCheck:     spec.HealthCheck,
		ScalingPolicy:   spec.ScalingPolicy,
		Resources:       spec.Resources,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.deployments[id] = d
	o.byKey[key] = id

	svc := &types.Service{
		DeploymentID: id,
		Name:         spec.Name,
		Namespace:    spec.Namespace,
		Ports:        spec.Ports,
	}
	o.services[id] = svc
	o.refreshDeploymentGaugesLocked()
	snapshot := *d
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return snapshot, err
	}

	o.broker.Publish(&Event{Type: EventDeploymentUpdated, DeploymentID: id, Message: "deployment created"})
	o.logger.Info().Str("deployment_id", string(id)).Str("name", spec.Name).Int("desired_replicas", spec.DesiredReplicas).Msg("deployment created")
	return snapshot, nil
}

// Scale sets desired_replicas and marks the deployment Scaling; the
// convergence loop does the actual container work.
func (o *Orchestrator) Scale(name, namespace string, replicas int) (types.Deployment, error) {
	if namespace == "" {
		namespace = "default"
	}
	if replicas < 0 {
		return types.Deployment{}, perr.Newf(perr.Storage, "scale_deployment", "replicas must be >= 0, got %d", replicas)
	}

	o.mu.Lock()
	id, ok := o.byKey[deploymentKey(name, namespace)]
	if !ok {
		o.mu.Unlock()
		return types.Deployment{}, perr.Newf(perr.Storage, "scale_deployment", "deployment %s/%s not found", namespace, name)
	}
	d := o.deployments[id]
	d.DesiredReplicas = replicas
	d.Status = types.DeploymentStatusScaling
	d.UpdatedAt = time.Now()
	snapshot := *d
	o.mu.Unlock()

	if err := o.persist(); err != nil {
		return snapshot, err
	}
	o.broker.Publish(&Event{Type: EventDeploymentUpdated, DeploymentID: id, Message: "desired_replicas changed", ToReplicas: replicas})
	return snapshot, nil
}

// Delete stops and removes every container the deployment owns and
// drops its row (§4.5).
func (o *Orchestrator) Delete(name, namespace string) error {
	if namespace == "" {
		namespace = "default"
	}

	o.mu.Lock()
	id, ok := o.byKey[deploymentKey(name, namespace)]
	if !ok {
		o.mu.Unlock()
		return perr.Newf(perr.Storage, "delete_deployment", "deployment %s/%s not found", namespace, name)
	}
	delete(o.deployments, id)
	delete(o.services, id)
	delete(o.byKey, deploymentKey(name, namespace))
	o.refreshDeploymentGaugesLocked()
	o.mu.Unlock()

	ctx := context.Background()
	for _, c := range o.containersForDeployment(id) {
		if c.Status == types.ContainerStatusRunning || c.Status == types.ContainerStatusPaused {
			if err := o.engine.StopContainer(ctx, c.ID); err != nil {
				o.logger.Warn().Str("deployment_id", string(id)).Str("container_id", string(c.ID)).Err(err).Msg("delete_deployment: stop failed")
			}
		}
		if err := o.engine.RemoveContainer(ctx, c.ID); err != nil {
			o.logger.Warn().Str("deployment_id", string(id)).Str("container_id", string(c.ID)).Err(err).Msg("delete_deployment: remove failed")
		}
	}

	if err := o.persist(); err != nil {
		return err
	}
	o.broker.Publish(&Event{Type: EventDeploymentUpdated, DeploymentID: id, Message: "deployment deleted"})
	o.logger.Info().Str("deployment_id", string(id)).Msg("deployment deleted")
	return nil
}

// GetStatus returns a snapshot of one deployment by (name, namespace).
func (o *Orchestrator) GetStatus(name, namespace string) (types.Deployment, error) {
	if namespace == "" {
		namespace = "default"
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.byKey[deploymentKey(name, namespace)]
	if !ok {
		return types.Deployment{}, perr.Newf(perr.Storage, "get_deployment", "deployment %s/%s not found", namespace, name)
	}
	return *o.deployments[id], nil
}

// ListDeployments returns a snapshot of every deployment.
func (o *Orchestrator) ListDeployments() []types.Deployment {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.Deployment, 0, len(o.deployments))
	for _, d := range o.deployments {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetStats returns aggregate counters across every deployment (§4.5).
func (o *Orchestrator) GetStats() types.Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var s types.Stats
	s.TotalDeployments = len(o.deployments)
	s.TotalServices = len(o.services)
	for _, d := range o.deployments {
		switch d.Status {
		case types.DeploymentStatusRunning:
			s.RunningDeployments++
		case types.DeploymentStatusFailed:
			s.FailedDeployments++
		}
		s.TotalReplicas += d.CurrentReplicas
		if d.HealthCheck != nil {
			s.TotalHealthChecks++
		}
		if d.ScalingPolicy != nil && d.ScalingPolicy.Enabled {
			s.AutoScalingEnabled++
		}
	}
	return s
}

// CollectMetrics appends a sample to the deployment's metrics ring (§4.5).
func (o *Orchestrator) CollectMetrics(m types.ScalingMetrics) {
	o.metrics.collect(m)
}

// GetAverageMetrics averages samples newer than now-window.
func (o *Orchestrator) GetAverageMetrics(id types.DeploymentId, window time.Duration) (types.ScalingMetrics, bool) {
	return o.metrics.average(id, window, time.Now())
}

// GetScalingHistory returns every recorded evaluation for a deployment.
func (o *Orchestrator) GetScalingHistory(id types.DeploymentId) []types.ScalingAction {
	return o.history.forDeployment(id)
}

// persist snapshots deployments/services and writes them to disk. The
// snapshot is taken under lock; the write itself happens unlocked (§5 —
// "a writer releases its lock before performing I/O").
func (o *Orchestrator) persist() error {
	o.mu.RLock()
	state := persistedState{
		Deployments: make(map[types.DeploymentId]*types.Deployment, len(o.deployments)),
		Services:    make(map[types.DeploymentId]*types.Service, len(o.services)),
	}
	for id, d := range o.deployments {
		cp := *d
		state.Deployments[id] = &cp
	}
	for id, s := range o.services {
		cp := *s
		state.Services[id] = &cp
	}
	o.mu.RUnlock()

	return saveState(o.statePath, state)
}

// containersForDeployment returns every C1 container labeled as
// belonging to id.
func (o *Orchestrator) containersForDeployment(id types.DeploymentId) []types.Container {
	var out []types.Container
	for _, c := range o.engine.ListContainers() {
		if c.Labels[labelDeploymentID] == string(id) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return replicaIndexOf(out[i]) < replicaIndexOf(out[j]) })
	return out
}

func replicaIndexOf(c types.Container) int {
	n, _ := strconv.Atoi(c.Labels[labelReplicaIndex])
	return n
}

func replicaName(namespace, name string, index int) string {
	return fmt.Sprintf("%s-%s-%d", namespace, name, index)
}

func notFoundErr(namespace, name string) error {
	return perr.Newf(perr.Storage, "get_deployment", "deployment %s/%s not found", namespace, name)
}
