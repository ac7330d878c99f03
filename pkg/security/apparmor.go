package security

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// AppArmorMode is the enforcement mode of a loaded profile.
type AppArmorMode string

const (
	AppArmorEnforce  AppArmorMode = "enforce"
	AppArmorComplain AppArmorMode = "complain"
	AppArmorDisabled AppArmorMode = "disabled"
)

// AppArmorProfile is a named set of rules in one of the three modes.
type AppArmorProfile struct {
	Name  string
	Rules []string
	Mode  AppArmorMode
}

// AppArmorManager probes for and loads AppArmor profiles via the host's
// aa-status/apparmor_parser/aa-enforce utilities. There is no Go
// AppArmor client library in the ecosystem, so this shells out exactly
// as the original polis-security apparmor.rs does.
type AppArmorManager struct{}

// NewAppArmorManager constructs an AppArmorManager.
func NewAppArmorManager() *AppArmorManager {
	return &AppArmorManager{}
}

// IsAvailable reports whether aa-status is present and runnable.
func (m *AppArmorManager) IsAvailable() bool {
	cmd := exec.Command("aa-status")
	return cmd.Run() == nil
}

// profileName is the naming convention container-<id>, matching the
// original's create_container_profile.
func profileName(containerID string) string {
	return "container-" + containerID
}

// CreateContainerProfile builds the standard per-container rule set: a
// deny-list over sensitive /proc and /sys paths that a sandboxed
// workload should never be able to write.
func (m *AppArmorManager) CreateContainerProfile(containerID string) (*AppArmorProfile, error) {
	name := profileName(containerID)
	rules := []string{
		"#include <abstractions/base>",
		"network,",
		"capability,",
		"file,",
		"umount,",
		"deny /proc/sys/kernel/** w,",
		"deny /proc/sysrq-trigger rw,",
		"deny /proc/kcore rw,",
		"deny /sys/firmware/** rw,",
		"deny /sys/kernel/security/** rw,",
		"deny mount,",
	}
	return &AppArmorProfile{Name: name, Rules: rules, Mode: AppArmorEnforce}, nil
}

// LoadProfile writes the profile to a temp file and loads it with
// apparmor_parser -r, then removes the temp file.
func (m *AppArmorManager) LoadProfile(p *AppArmorProfile) error {
	path := filepath.Join(os.TempDir(), fmt.Sprintf("polis-%s.conf", p.Name))
	content := generateProfileContent(p)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write apparmor profile: %w", err)
	}
	defer os.Remove(path)

	cmd := exec.Command("apparmor_parser", "-r", path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("apparmor_parser -r %s: %w: %s", path, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// UnloadProfile removes a previously loaded profile by name.
func (m *AppArmorManager) UnloadProfile(name string) error {
	cmd := exec.Command("apparmor_parser", "-R", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("apparmor_parser -R %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// SetProfileMode switches a loaded profile between enforce and complain.
func (m *AppArmorManager) SetProfileMode(name string, mode AppArmorMode) error {
	flag := "-e"
	if mode == AppArmorComplain {
		flag = "-C"
	}
	cmd := exec.Command("aa-enforce", flag, name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("aa-enforce %s %s: %w: %s", flag, name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func generateProfileContent(p *AppArmorProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile %s {\n", p.Name)
	for _, rule := range p.Rules {
		fmt.Fprintf(&b, "  %s\n", rule)
	}
	b.WriteString("}\n")
	return b.String()
}
