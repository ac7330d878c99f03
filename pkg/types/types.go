// Package types defines the data model shared by every core component:
// containers (C1), images (C2), security profiles (C3), volumes (C4), and
// deployments (C5). Types here carry no behavior beyond simple predicates;
// ownership and mutation rules live with the component that owns each type.
package types

import (
	"fmt"
	"time"
)

// ContainerId is an opaque 128-bit identifier for a Container, minted by
// C1 at create_container time.
type ContainerId string

// ImageId is an opaque identifier minted by C2 at pull time as a random
// UUID; it is not derived from the image's repo:tag or digest.
type ImageId string

// DeploymentId is an opaque identifier for a Deployment, minted by C5 at
// deploy time.
type DeploymentId string

// Container is the authoritative row owned exclusively by C1 (pkg/runtime).
// No other component mutates a Container; callers receive snapshots.
type Container struct {
	ID             ContainerId
	Name           string
	Image          string
	Command        []string
	Env            map[string]string
	WorkingDir     string
	ResourceLimits ResourceLimits
	NetworkMode    NetworkMode
	Ports          []PortMapping
	Volumes        []VolumeMount
	Labels         map[string]string

	Status ContainerStatus

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	ExitCode   *int

	// PID is the actual OS process ID of the supervised child, recorded at
	// spawn time. Zero when the container has never run.
	PID int
}

// ContainerStatus is one state of the C1 lifecycle FSM (§4.1).
type ContainerStatus string

const (
	ContainerStatusCreated ContainerStatus = "created"
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusPaused  ContainerStatus = "paused"
	ContainerStatusStopped ContainerStatus = "stopped"
	ContainerStatusRemoved ContainerStatus = "removed"
)

// NetworkMode selects how a container's network namespace is configured.
type NetworkMode string

const (
	NetworkModeBridge  NetworkMode = "bridge"
	NetworkModeHost    NetworkMode = "host"
	NetworkModeNone    NetworkMode = "none"
	NetworkModeMacvlan NetworkMode = "macvlan"
)

// PortMapping is a host<->container port pair.
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// VolumeMount binds a named volume into a container's filesystem.
type VolumeMount struct {
	Source   string // volume name
	Target   string // container path
	ReadOnly bool
}

// ResourceLimits bounds what a single container (or, embedded in a
// SecurityProfile, its cgroup) may consume. All fields are optional;
// zero/nil means unlimited.
type ResourceLimits struct {
	MemoryLimit int64   // bytes
	MemorySwap  int64   // bytes; must be >= MemoryLimit when both are set
	CPUQuota    float64 // fraction of a core, (0, N_cores]
	CPUPeriod   int64   // microseconds, typically 100000
	PidsLimit   int64
	DiskQuota   int64 // bytes
}

// Validate rejects the two illegal combinations §8 names: a swap limit
// given without a memory limit to be relative to, and a CPU quota
// asking for more cores than the host has. It also rejects a swap limit
// below the memory limit when both are set.
func (r ResourceLimits) Validate(numCPU int) error {
	if r.MemorySwap > 0 && r.MemoryLimit <= 0 {
		return fmt.Errorf("memory_swap set without memory_limit")
	}
	if r.MemorySwap > 0 && r.MemorySwap < r.MemoryLimit {
		return fmt.Errorf("memory_swap %d is below memory_limit %d", r.MemorySwap, r.MemoryLimit)
	}
	if r.CPUQuota > float64(numCPU) {
		return fmt.Errorf("cpu_quota %.2f exceeds available cores (%d)", r.CPUQuota, numCPU)
	}
	return nil
}

// Image is C2's (pkg/image) catalog entry, keyed by a random ImageId;
// metadata.json on disk is the source of truth for
// listings, this struct mirrors that file.
type Image struct {
	ID           ImageId
	Name         string
	Tag          string
	Digest       string
	Size         int64
	CreatedAt    time.Time
	Architecture string
	OS           string
	Layers       []string // digests, base layer first
	Config       ImageConfig
}

// ImageConfig is the subset of an OCI image config Polis cares about.
type ImageConfig struct {
	Entrypoint   []string
	Cmd          []string
	Env          []string
	WorkingDir   string
	ExposedPorts []string
	Volumes      []string
	Labels       map[string]string
}

// VolumeDriverKind names a pluggable volume backend (§4.4).
type VolumeDriverKind string

const (
	VolumeDriverLocal VolumeDriverKind = "local"
	VolumeDriverNFS   VolumeDriverKind = "nfs"
	VolumeDriverCIFS  VolumeDriverKind = "cifs"
	VolumeDriverBind  VolumeDriverKind = "bind"
	VolumeDriverTmpfs VolumeDriverKind = "tmpfs"
)

// Volume is C4's (pkg/volume) registry row. Ref-count lives only in
// memory; it is reset to zero on every process restart (§4.4 startup
// scan).
type Volume struct {
	Name       string
	Driver     VolumeDriverKind
	Mountpoint string
	CreatedAt  time.Time
	Options    map[string]string
	Labels     map[string]string
	Size       int64

	RefCount int
}

// InUse reports whether any mount currently references this volume.
func (v *Volume) InUse() bool {
	return v.RefCount > 0
}

// MountOptions are honored by a driver's Mount call (§4.4).
type MountOptions struct {
	ReadOnly bool
	NoExec   bool
	NoDev    bool
	NoSuid   bool
	UID      *int
	GID      *int
	Mode     *uint32
	User     string
	Group    string
}

// VolumeStats is the result of get_volume_stats.
type VolumeStats struct {
	Size        int64
	Used        int64
	Available   int64
	InUse       bool
	MountCount  int
	LastMounted *time.Time
}

// SecurityProfile is C3's (pkg/security) per-container sandbox spec.
type SecurityProfile struct {
	ContainerID     ContainerId
	Namespaces      []string // subset of {pid, net, ipc, uts, mount, user}
	CgroupLimits    ResourceLimits
	SeccompProfile  string
	Capabilities    []string
	AppArmorProfile string // empty when AppArmor is unavailable
	SELinuxContext  *SELinuxContext
	SandboxConfig   SandboxConfig
}

// SELinuxContext is a user:role:type:level label tuple.
type SELinuxContext struct {
	User  string
	Role  string
	Type  string
	Level string
}

// SandboxConfig captures the rootfs/mount hardening knobs of a profile.
type SandboxConfig struct {
	ReadOnlyRootfs  bool
	NoNewPrivileges bool
	MaskedPaths     []string
	ReadonlyPaths   []string
	TmpfsMounts     []string
}

// SecurityPreset names one of C3's three provenance presets (§4.3).
type SecurityPreset string

const (
	SecurityPresetDefault      SecurityPreset = "default"
	SecurityPresetHighSecurity SecurityPreset = "high-security"
	SecurityPresetPrivileged   SecurityPreset = "privileged"
)

// DeploymentStatus is a Deployment's reconciliation state (§3).
type DeploymentStatus string

const (
	DeploymentStatusPending DeploymentStatus = "pending"
	DeploymentStatusRunning DeploymentStatus = "running"
	DeploymentStatusFailed  DeploymentStatus = "failed"
	DeploymentStatusScaling DeploymentStatus = "scaling"
	DeploymentStatusPaused  DeploymentStatus = "paused"
)

// Deployment is C5's (pkg/orchestrator) registry row, keyed by
// (Name, Namespace).
type Deployment struct {
	ID                  DeploymentId
	Name                string
	Namespace           string
	Image               string
	Command             []string
	DesiredReplicas     int
	CurrentReplicas     int
	ReadyReplicas       int
	AvailableReplicas   int
	Status              DeploymentStatus
	Ports               []PortMapping
	EnvVars             map[string]string
	Labels              map[string]string
	HealthCheck         *HealthCheck
	ScalingPolicy       *ScalingPolicy
	Resources           *ResourceLimits
	ConsecutiveFailures int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HealthCheck is a deployment-level liveness probe definition.
type HealthCheck struct {
	Type     HealthCheckType
	Endpoint string   // URL (http) or "host:port" (tcp)
	Command  []string // for exec
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// HealthCheckType selects a HealthCheck's probe mechanism.
type HealthCheckType string

const (
	HealthCheckHTTP HealthCheckType = "http"
	HealthCheckTCP  HealthCheckType = "tcp"
	HealthCheckExec HealthCheckType = "exec"
)

// ScalingPolicy drives C5's auto-scaling evaluator (§4.5).
type ScalingPolicy struct {
	MinReplicas             int
	MaxReplicas             int
	TargetCPUUtilization    float64
	TargetMemoryUtilization float64
	TargetRequestsPerSecond float64
	ScaleUpCooldown         time.Duration
	ScaleDownCooldown       time.Duration
	Enabled                 bool
}

// ScalingMetrics is one sample fed to collect_metrics.
type ScalingMetrics struct {
	DeploymentID      DeploymentId
	Timestamp         time.Time
	CPUUtilization    float64
	MemoryUtilization float64
	RequestsPerSecond float64
	ResponseTime      time.Duration
	ErrorRate         float64
	ActiveConnections int
}

// ScalingActionType classifies the outcome of a scaling evaluation.
type ScalingActionType string

const (
	ScalingActionScaleUp   ScalingActionType = "scale_up"
	ScalingActionScaleDown ScalingActionType = "scale_down"
	ScalingActionNoAction  ScalingActionType = "no_action"
)

// ScalingAction is one recorded evaluation, including NoAction outcomes,
// kept in one capped ring buffer shared by all deployments and filtered
// by DeploymentID on read (§4.5, §D.4).
type ScalingAction struct {
	DeploymentID DeploymentId
	ActionType   ScalingActionType
	FromReplicas int
	ToReplicas   int
	Reason       string
	Timestamp    time.Time
	Success      bool
}

// Service is the published endpoint view of a Deployment's ports,
// constructed at deploy time.
type Service struct {
	DeploymentID DeploymentId
	Name         string
	Namespace    string
	Ports        []PortMapping
}

// Stats is the result of C5's get_stats operation.
type Stats struct {
	TotalDeployments   int
	RunningDeployments int
	FailedDeployments  int
	TotalServices      int
	TotalHealthChecks  int
	TotalReplicas      int
	AutoScalingEnabled int
}

// CleanupOptions parameterizes C2's cleanup pass (§4.2).
type CleanupOptions struct {
	Force          bool
	RemoveUntagged bool
	RemoveDangling bool
	OlderThan      *time.Duration
	KeepLatest     bool
	DryRun         bool
}

// CleanupStats is the result of a cleanup pass.
type CleanupStats struct {
	ImagesRemoved   int
	SpaceFreed      int64
	LayersRemoved   int
	DanglingRemoved int
	UntaggedRemoved int
}

// SearchOptions filters a C2 search_images call.
type SearchOptions struct {
	Registry  string
	Official  bool
	Trusted   bool
	Automated bool
	MinStars  int
}

// SearchResult is one entry returned by search_images.
type SearchResult struct {
	Name        string
	Description string
	Registry    string
	Stars       int
	Official    bool
	Trusted     bool
	Automated   bool
}
