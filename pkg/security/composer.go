package security

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/types"
)

// defaultCapabilities is the standard runtime capability set granted to
// the Default preset (§4.3).
var defaultCapabilities = []string{
	"CHOWN", "DAC_OVERRIDE", "FOWNER", "FSETID", "KILL", "SETGID",
	"SETUID", "SETPCAP", "NET_BIND_SERVICE", "NET_RAW", "SYS_CHROOT",
	"MKNOD", "AUDIT_WRITE", "SETFCAP",
}

// highSecurityCapabilities is the reduced set granted to HighSecurity.
var highSecurityCapabilities = []string{
	"CHOWN", "DAC_OVERRIDE", "FOWNER", "FSETID", "KILL", "SETGID", "SETUID",
}

var defaultMaskedPaths = []string{
	"/proc/kcore", "/proc/keys", "/proc/latency_stats", "/proc/timer_list",
	"/proc/timer_stats", "/proc/sched_debug", "/proc/scsi", "/sys/firmware",
}

var defaultReadonlyPaths = []string{
	"/proc/asound", "/proc/bus", "/proc/fs", "/proc/irq", "/proc/sys",
	"/proc/sysrq-trigger",
}

var highSecurityExtraMaskedPaths = []string{
	"/proc/kmsg", "/proc/sys", "/proc/sysrq-trigger", "/proc/irq", "/proc/bus",
}

// Composer owns per-container SecurityProfiles (C3, §4.3). It is
// stateless about any specific running child; it only remembers the
// profile it handed out so callers can inspect, update, or tear it down
// later.
type Composer struct {
	mu       sync.RWMutex
	profiles map[types.ContainerId]*types.SecurityProfile

	apparmor *AppArmorManager
	selinux  *SELinuxManager
	logger   zerolog.Logger
}

// NewComposer constructs a Composer, probing the host for AppArmor and
// SELinux availability.
func NewComposer() *Composer {
	return &Composer{
		profiles: make(map[types.ContainerId]*types.SecurityProfile),
		apparmor: NewAppArmorManager(),
		selinux:  NewSELinuxManager(),
		logger:   log.WithComponent("security"),
	}
}

func (c *Composer) basePreset(id types.ContainerId) *types.SecurityProfile {
	return &types.SecurityProfile{
		ContainerID:    id,
		Namespaces:     []string{"pid", "net", "ipc", "uts", "mount"},
		CgroupLimits:   types.ResourceLimits{},
		SeccompProfile: "default",
		Capabilities:   append([]string(nil), defaultCapabilities...),
		SandboxConfig: types.SandboxConfig{
			ReadOnlyRootfs:  false,
			NoNewPrivileges: true,
			MaskedPaths:     append([]string(nil), defaultMaskedPaths...),
			ReadonlyPaths:   append([]string(nil), defaultReadonlyPaths...),
			TmpfsMounts:     []string{"/tmp", "/var/tmp"},
		},
	}
}

// applyMAC loads an AppArmor profile and/or synthesizes a SELinux
// context for the container, when each subsystem is available. Neither
// failing to be available is an error (§4.3).
func (c *Composer) applyMAC(profile *types.SecurityProfile) error {
	idStr := string(profile.ContainerID)

	if c.apparmor.IsAvailable() {
		ap, err := c.apparmor.CreateContainerProfile(idStr)
		if err != nil {
			return perr.New(perr.Security, "create_container_profile", err)
		}
		if err := c.apparmor.LoadProfile(ap); err != nil {
			return perr.New(perr.Security, "create_container_profile", err)
		}
		profile.AppArmorProfile = ap.Name
	}

	if c.selinux.IsAvailable() {
		profile.SELinuxContext = c.selinux.ContainerContext(idStr)
	}

	return nil
}

// CreateContainerProfile builds the Default preset for id, applying MAC
// integration where available, and stores it.
func (c *Composer) CreateContainerProfile(id types.ContainerId) (*types.SecurityProfile, error) {
	profile := c.basePreset(id)
	if err := c.applyMAC(profile); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profiles[id] = profile
	c.mu.Unlock()

	c.logger.Info().Str("container_id", string(id)).Msg("security profile created")
	return profile, nil
}

// CreateHighSecurityProfile builds the HighSecurity preset: Default plus
// a user namespace, a reduced capability set, a read-only rootfs, and an
// extended mask list.
func (c *Composer) CreateHighSecurityProfile(id types.ContainerId) (*types.SecurityProfile, error) {
	profile := c.basePreset(id)
	profile.Namespaces = append(profile.Namespaces, "user")
	profile.Capabilities = append([]string(nil), highSecurityCapabilities...)
	profile.SandboxConfig.ReadOnlyRootfs = true
	profile.SandboxConfig.NoNewPrivileges = true
	profile.SandboxConfig.MaskedPaths = append(profile.SandboxConfig.MaskedPaths, highSecurityExtraMaskedPaths...)

	if err := c.applyMAC(profile); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profiles[id] = profile
	c.mu.Unlock()

	c.logger.Info().Str("container_id", string(id)).Msg("high-security profile created")
	return profile, nil
}

// CreatePrivilegedProfile builds the Privileged preset: ALL capabilities,
// every sandbox restriction relaxed. Callers opt into it explicitly.
func (c *Composer) CreatePrivilegedProfile(id types.ContainerId) (*types.SecurityProfile, error) {
	profile := c.basePreset(id)
	profile.Capabilities = []string{"ALL"}
	profile.SandboxConfig.ReadOnlyRootfs = false
	profile.SandboxConfig.NoNewPrivileges = false
	profile.SandboxConfig.MaskedPaths = nil
	profile.SandboxConfig.ReadonlyPaths = nil

	if err := c.applyMAC(profile); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.profiles[id] = profile
	c.mu.Unlock()

	c.logger.Warn().Str("container_id", string(id)).Msg("privileged profile created")
	return profile, nil
}

// GetContainerProfile returns the stored profile for id, or a Security
// error if none exists.
func (c *Composer) GetContainerProfile(id types.ContainerId) (*types.SecurityProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.profiles[id]
	if !ok {
		return nil, perr.New(perr.Security, "get_container_profile", nil)
	}
	return p, nil
}

// ListContainerProfiles returns a snapshot of every stored profile.
func (c *Composer) ListContainerProfiles() []*types.SecurityProfile {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*types.SecurityProfile, 0, len(c.profiles))
	for _, p := range c.profiles {
		out = append(out, p)
	}
	return out
}

// UpdateCgroupLimits mutates the stored profile's cgroup limits only; it
// does not touch a running container's live cgroup.
func (c *Composer) UpdateCgroupLimits(id types.ContainerId, limits types.ResourceLimits) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.profiles[id]
	if !ok {
		return perr.New(perr.Security, "update_cgroup_limits", nil)
	}
	p.CgroupLimits = limits
	return nil
}

// UpdateCapabilities mutates the stored profile's capability set only.
func (c *Composer) UpdateCapabilities(id types.ContainerId, caps []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.profiles[id]
	if !ok {
		return perr.New(perr.Security, "update_capabilities", nil)
	}
	p.Capabilities = caps
	return nil
}

// RemoveContainerProfile drops the stored profile and unloads its
// AppArmor profile, if one was loaded.
func (c *Composer) RemoveContainerProfile(id types.ContainerId) error {
	c.mu.Lock()
	p, ok := c.profiles[id]
	if ok {
		delete(c.profiles, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if p.AppArmorProfile != "" {
		if err := c.apparmor.UnloadProfile(p.AppArmorProfile); err != nil {
			return perr.New(perr.Security, "remove_container_profile", err)
		}
	}
	return nil
}

// Status summarizes the host's available security subsystems, mirroring
// the original project's SecurityStatus (§D.3).
type Status struct {
	NamespacesAvailable   bool
	CgroupsAvailable      bool
	SeccompAvailable      bool
	CapabilitiesAvailable bool
	AppArmorAvailable     bool
	SELinuxAvailable      bool
	ContainerCount        int
}

// GetStatus reports the composer's view of host MAC availability.
func (c *Composer) GetStatus() Status {
	c.mu.RLock()
	count := len(c.profiles)
	c.mu.RUnlock()

	return Status{
		NamespacesAvailable:   true,
		CgroupsAvailable:      true,
		SeccompAvailable:      true,
		CapabilitiesAvailable: true,
		AppArmorAvailable:     c.apparmor.IsAvailable(),
		SELinuxAvailable:      c.selinux.IsAvailable(),
		ContainerCount:        count,
	}
}
