package runtime

import (
	goruntime "runtime"

	"github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

// applyLiveCgroupLimits pushes updated resource limits into the cgroup
// of an already-running container's supervised process, without
// restarting it.
func applyLiveCgroupLimits(pid int, limits types.ResourceLimits) error {
	cg, err := cgroups.Load(cgroups.V1, cgroups.PidPath(pid))
	if err != nil {
		return perr.New(perr.Container, "update_resource_limits", err)
	}

	resources := &specs.LinuxResources{}
	if limits.MemoryLimit > 0 {
		mem := limits.MemoryLimit
		resources.Memory = &specs.LinuxMemory{Limit: &mem}
	}
	if limits.CPUQuota > 0 {
		period := uint64(limits.CPUPeriod)
		if period == 0 {
			period = 100000
		}
		quota := int64(limits.CPUQuota * float64(period))
		resources.CPU = &specs.LinuxCPU{Quota: &quota, Period: &period}
	}
	if limits.PidsLimit > 0 {
		resources.Pids = &specs.LinuxPids{Limit: limits.PidsLimit}
	}

	if err := cg.Update(resources); err != nil {
		return perr.New(perr.Container, "update_resource_limits", err)
	}
	return nil
}

// UpdateResourceLimits pushes new resource limits into a Running
// container's live cgroup and records them against both the row and
// the stored security profile (§4.1/§4.3 share cgroup ownership: C1
// supervises the process, C3 owns the profile that describes it).
func (e *Engine) UpdateResourceLimits(id types.ContainerId, limits types.ResourceLimits) error {
	if err := limits.Validate(goruntime.NumCPU()); err != nil {
		return perr.New(perr.Container, "update_resource_limits", err)
	}

	e.mu.Lock()
	c, ok := e.containers[id]
	if !ok {
		e.mu.Unlock()
		return perr.Newf(perr.Container, "update_resource_limits", "container %s not found", id)
	}
	if c.Status != types.ContainerStatusRunning {
		status := c.Status
		e.mu.Unlock()
		return perr.Newf(perr.Container, "update_resource_limits", "container %s is %s, not running", id, status)
	}
	pid := c.PID
	e.mu.Unlock()

	if err := applyLiveCgroupLimits(pid, limits); err != nil {
		return err
	}
	if err := e.security.UpdateCgroupLimits(id, limits); err != nil {
		return perr.New(perr.Security, "update_resource_limits", err)
	}

	e.mu.Lock()
	if c, ok := e.containers[id]; ok {
		c.ResourceLimits = limits
	}
	e.mu.Unlock()
	return nil
}
