package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wendelmax/polis/pkg/health"
	"github.com/wendelmax/polis/pkg/types"
)

// healthMonitor runs one probe loop per monitored container, independent
// of the convergence tick, so a slow HTTP/TCP probe never blocks
// reconciliation of other deployments (§4.5 readiness).
type healthMonitor struct {
	mu        sync.RWMutex
	monitors  map[types.ContainerId]*containerMonitor
	cancelFns map[types.ContainerId]context.CancelFunc
	stopCh    chan struct{}
}

type containerMonitor struct {
	checker health.Checker
	config  health.Config
	status  *health.Status
}

func newHealthMonitor() *healthMonitor {
	return &healthMonitor{
		monitors:  make(map[types.ContainerId]*containerMonitor),
		cancelFns: make(map[types.ContainerId]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
}

func (hm *healthMonitor) stop() {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	close(hm.stopCh)
	for _, cancel := range hm.cancelFns {
		cancel()
	}
}

// sync starts a probe loop for every running container that carries a
// health check and isn't already monitored, and stops monitors for
// containers that are gone.
func (hm *healthMonitor) sync(containers []types.Container, checks map[types.ContainerId]*types.HealthCheck) {
	hm.mu.Lock()
	present := make(map[types.ContainerId]struct{}, len(containers))
	for _, c := range containers {
		present[c.ID] = struct{}{}
	}
	for id, cancel := range hm.cancelFns {
		if _, ok := present[id]; !ok {
			cancel()
			delete(hm.cancelFns, id)
			delete(hm.monitors, id)
		}
	}
	hm.mu.Unlock()

	for _, c := range containers {
		if c.Status != types.ContainerStatusRunning {
			continue
		}
		hc, ok := checks[c.ID]
		if !ok || hc == nil {
			continue
		}
		hm.mu.RLock()
		_, monitored := hm.monitors[c.ID]
		hm.mu.RUnlock()
		if monitored {
			continue
		}
		hm.start(c.ID, hc)
	}
}

func (hm *healthMonitor) start(id types.ContainerId, hc *types.HealthCheck) {
	checker, err := buildChecker(hc)
	if err != nil {
		return
	}

	cfg := health.Config{
		Interval: hc.Interval,
		Timeout:  hc.Timeout,
		Retries:  hc.Retries,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}

	mon := &containerMonitor{checker: checker, config: cfg, status: health.NewStatus()}

	hm.mu.Lock()
	ctx, cancel := context.WithCancel(context.Background())
	hm.monitors[id] = mon
	hm.cancelFns[id] = cancel
	hm.mu.Unlock()

	go hm.loop(ctx, mon)
}

func (hm *healthMonitor) loop(ctx context.Context, mon *containerMonitor) {
	ticker := time.NewTicker(mon.config.Interval)
	defer ticker.Stop()

	hm.probe(ctx, mon)
	for {
		select {
		case <-ticker.C:
			hm.probe(ctx, mon)
		case <-ctx.Done():
			return
		case <-hm.stopCh:
			return
		}
	}
}

func (hm *healthMonitor) probe(ctx context.Context, mon *containerMonitor) {
	checkCtx, cancel := context.WithTimeout(ctx, mon.config.Timeout)
	defer cancel()

	result := mon.checker.Check(checkCtx)

	hm.mu.Lock()
	mon.status.Update(result, mon.config)
	hm.mu.Unlock()
}

// isHealthy reports whether id currently passes its health check.
// Containers with no active monitor (health check not yet configured,
// or still running its first probe) are treated as healthy so a fresh
// replica isn't excluded from readiness before it has had a chance to
// be probed.
func (hm *healthMonitor) isHealthy(id types.ContainerId) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	mon, ok := hm.monitors[id]
	if !ok {
		return true
	}
	return mon.status.Healthy
}

func buildChecker(hc *types.HealthCheck) (health.Checker, error) {
	switch hc.Type {
	case types.HealthCheckHTTP:
		return health.NewHTTPChecker(hc.Endpoint), nil
	case types.HealthCheckTCP:
		return health.NewTCPChecker(hc.Endpoint), nil
	case types.HealthCheckExec:
		return health.NewExecChecker(hc.Command), nil
	default:
		return nil, fmt.Errorf("unsupported health check type: %s", hc.Type)
	}
}
