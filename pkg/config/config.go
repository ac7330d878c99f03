// Package config loads Polis's static configuration: gopkg.in/yaml.v3
// decoded into plain structs, with a Default() for every optional field.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of options the core components consume.
type Config struct {
	Runtime    Runtime    `yaml:"runtime"`
	Storage    Storage    `yaml:"storage"`
	Network    Network    `yaml:"network"`
	Security   Security   `yaml:"security"`
	Registries Registries `yaml:"registries"`
}

// Runtime configures C1.
type Runtime struct {
	RootDir            string `yaml:"root_dir"`
	MaxContainers       int    `yaml:"max_containers"`
	ContainerTimeoutSecs int   `yaml:"container_timeout_secs"`
	LogLevel           string `yaml:"log_level"`
}

// Storage configures C2/C4's on-disk roots.
type Storage struct {
	RootDir string `yaml:"root_dir"`
}

// Network configures the bridge/DNS defaults consumed when composing a
// container's network namespace.
type Network struct {
	BridgeName string   `yaml:"bridge_name"`
	Subnet     string   `yaml:"subnet,omitempty"`
	Gateway    string   `yaml:"gateway,omitempty"`
	DNSServers []string `yaml:"dns_servers"`
}

// Security configures C3's default sandbox knobs.
type Security struct {
	SeccompProfileName string   `yaml:"seccomp_profile_name"`
	AppArmorProfileName string  `yaml:"apparmor_profile_name"`
	NoNewPrivileges    bool     `yaml:"no_new_privileges"`
	DropCapabilities   []string `yaml:"drop_capabilities"`
	ReadOnlyRootfs     bool     `yaml:"read_only_rootfs"`
}

// Registries configures C2's registry resolution and the
// development-only synthetic-fallback opt-in (SPEC_FULL §E.1).
type Registries struct {
	SearchRegistries       []string                   `yaml:"search_registries"`
	Registries             map[string]RegistryEntry   `yaml:"registries"`
	AllowSyntheticFallback bool                       `yaml:"allow_synthetic_fallback"`
}

// RegistryEntry is one named registry's connection details. Fallback
// is tried once, in full, when Location (or Mirror, if set) fails for
// every step of a pull (§4.2).
type RegistryEntry struct {
	Location string `yaml:"location"`
	Mirror   string `yaml:"mirror,omitempty"`
	Fallback string `yaml:"fallback,omitempty"`
	Insecure bool   `yaml:"insecure,omitempty"`
	Blocked  bool   `yaml:"blocked,omitempty"`
}

// Default returns a Config with every optional field named in §6 filled
// in with a production-sane value.
func Default() Config {
	return Config{
		Runtime: Runtime{
			RootDir:              "/var/lib/polis",
			MaxContainers:        256,
			ContainerTimeoutSecs: 10,
			LogLevel:             "info",
		},
		Storage: Storage{
			RootDir: "/var/lib/polis",
		},
		Network: Network{
			BridgeName: "polis0",
			DNSServers: []string{"8.8.8.8", "1.1.1.1"},
		},
		Security: Security{
			SeccompProfileName:  "default",
			AppArmorProfileName: "",
			NoNewPrivileges:     true,
			DropCapabilities:    nil,
			ReadOnlyRootfs:      false,
		},
		Registries: Registries{
			SearchRegistries: []string{"docker.io"},
			Registries: map[string]RegistryEntry{
				"docker.io": {Location: "https://registry-1.docker.io", Fallback: "https://registry-1.docker.io"},
				"quay.io":   {Location: "https://quay.io"},
			},
			AllowSyntheticFallback: false,
		},
	}
}

// ContainerTimeout returns Runtime.ContainerTimeoutSecs as a Duration.
func (r Runtime) ContainerTimeout() time.Duration {
	return time.Duration(r.ContainerTimeoutSecs) * time.Second
}

// Load reads and decodes a YAML config file, filling any field absent
// from the file with Default()'s value by decoding onto a default base.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
