package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wendelmax/polis/pkg/config"
	"github.com/wendelmax/polis/pkg/image"
	"github.com/wendelmax/polis/pkg/log"
	"github.com/wendelmax/polis/pkg/orchestrator"
	"github.com/wendelmax/polis/pkg/perr"
	"github.com/wendelmax/polis/pkg/runtime"
	"github.com/wendelmax/polis/pkg/security"
	"github.com/wendelmax/polis/pkg/volume"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(perr.ExitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "polis",
	Short: "Polis - a single-node container runtime and deployment orchestrator",
	Long: `Polis runs and supervises containers on a single host: a
containerd-backed lifecycle engine, an OCI image cache, a volume
registry, and a deployment controller that converges replica counts
and auto-scales from collected metrics.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Polis version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file (defaults baked in if unset)")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/polis", "Root directory for image cache, volumes, and orchestrator state")
	rootCmd.PersistentFlags().String("containerd-socket", "", "containerd socket path (default /run/containerd/containerd.sock)")
	rootCmd.PersistentFlags().String("containerd-namespace", "", "containerd namespace (default polis)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(containerCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(deployCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// components bundles the core pieces a subcommand needs; built once per
// invocation from persistent flags and an optional config file.
type components struct {
	cfg     config.Config
	images  *image.Store
	volumes *volume.Manager
	engine  *runtime.Engine
	orch    *orchestrator.Orchestrator
	driver  *runtime.ContainerdDriver
}

// loadComponents constructs every core component cmd/polis's
// subcommands operate on. It owns nothing business-logic shaped itself
// — it just wires constructors together the way §6 describes.
func loadComponents(cmd *cobra.Command) (*components, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	socket, _ := cmd.Flags().GetString("containerd-socket")
	namespace, _ := cmd.Flags().GetString("containerd-namespace")

	var cfg config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return nil, perr.New(perr.Config, "load_config", err)
		}
	} else {
		cfg = config.Default()
	}
	if dataDir != "" {
		cfg.Storage.RootDir = dataDir
		cfg.Runtime.RootDir = dataDir
	}

	images, err := image.NewStore(cfg.Storage.RootDir+"/images", cfg.Registries)
	if err != nil {
		return nil, err
	}

	volumes, err := volume.NewManager(cfg.Storage.RootDir + "/volumes")
	if err != nil {
		return nil, err
	}

	driver, err := runtime.NewContainerdDriver(socket, namespace)
	if err != nil {
		return nil, perr.New(perr.Container, "connect_containerd", err)
	}

	composer := security.NewComposer()
	engine := runtime.NewEngine(driver, images, volumes, composer, cfg.Runtime.ContainerTimeout())

	orch := orchestrator.NewOrchestrator(engine, orchestrator.Options{
		StatePath: cfg.Storage.RootDir + "/data/orchestrator_state.json",
	})

	return &components{cfg: cfg, images: images, volumes: volumes, engine: engine, orch: orch, driver: driver}, nil
}

func (c *components) Close() {
	_ = c.driver.Close()
	_ = c.images.Close()
}
