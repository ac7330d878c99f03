package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wendelmax/polis/pkg/orchestrator"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Manage deployments",
}

var deployCreateCmd = &cobra.Command{
	Use:   "create NAME IMAGE",
	Short: "Create a deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		namespace, _ := cmd.Flags().GetString("namespace")
		replicas, _ := cmd.Flags().GetInt("replicas")
		env, _ := cmd.Flags().GetStringToString("env")

		d, err := c.orch.Deploy(orchestrator.DeploymentSpec{
			Name:            args[0],
			Namespace:       namespace,
			Image:           args[1],
			DesiredReplicas: replicas,
			EnvVars:         env,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Deployment created: %s/%s\n", d.Namespace, d.Name)
		fmt.Printf("  ID: %s\n", d.ID)
		fmt.Printf("  Desired replicas: %d\n", d.DesiredReplicas)
		return nil
	},
}

var deployScaleCmd = &cobra.Command{
	Use:   "scale NAME REPLICAS",
	Short: "Set a deployment's desired replica count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		namespace, _ := cmd.Flags().GetString("namespace")
		var replicas int
		if _, err := fmt.Sscanf(args[1], "%d", &replicas); err != nil {
			return fmt.Errorf("invalid replica count %q: %w", args[1], err)
		}

		d, err := c.orch.Scale(args[0], namespace, replicas)
		if err != nil {
			return err
		}

		fmt.Printf("Deployment %s/%s scaled to %d replicas\n", d.Namespace, d.Name, d.DesiredReplicas)
		return nil
	},
}

var deployDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a deployment and every container it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		namespace, _ := cmd.Flags().GetString("namespace")
		if err := c.orch.Delete(args[0], namespace); err != nil {
			return err
		}

		fmt.Printf("Deployment deleted: %s/%s\n", namespace, args[0])
		return nil
	},
}

var deployStatusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show a deployment's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		namespace, _ := cmd.Flags().GetString("namespace")
		d, err := c.orch.GetStatus(args[0], namespace)
		if err != nil {
			return err
		}

		fmt.Printf("Name: %s\n", d.Name)
		fmt.Printf("Namespace: %s\n", d.Namespace)
		fmt.Printf("Status: %s\n", d.Status)
		fmt.Printf("Replicas: %d/%d desired (%d ready)\n", d.CurrentReplicas, d.DesiredReplicas, d.ReadyReplicas)
		return nil
	},
}

var deployListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		deployments := c.orch.ListDeployments()
		if len(deployments) == 0 {
			fmt.Println("No deployments found")
			return nil
		}

		fmt.Printf("%-20s %-12s %-10s %-12s\n", "NAME", "NAMESPACE", "STATUS", "REPLICAS")
		fmt.Println(strings.Repeat("-", 70))
		for _, d := range deployments {
			fmt.Printf("%-20s %-12s %-10s %d/%d\n", d.Name, d.Namespace, d.Status, d.CurrentReplicas, d.DesiredReplicas)
		}
		return nil
	},
}

var deployStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate deployment statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		s := c.orch.GetStats()
		fmt.Printf("Total deployments: %d\n", s.TotalDeployments)
		fmt.Printf("Running: %d\n", s.RunningDeployments)
		fmt.Printf("Failed: %d\n", s.FailedDeployments)
		fmt.Printf("Total services: %d\n", s.TotalServices)
		fmt.Printf("Total replicas: %d\n", s.TotalReplicas)
		fmt.Printf("Health-checked deployments: %d\n", s.TotalHealthChecks)
		fmt.Printf("Auto-scaling enabled: %d\n", s.AutoScalingEnabled)
		return nil
	},
}

var deployRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the convergence and auto-scaling loops until interrupted",
	Long: `Run starts the background loops that actually drive deployments:
the convergence tick reconciles each deployment's container set toward
its desired replica count, and the auto-scaling evaluator adjusts
desired_replicas from collected metrics. Deployments created or scaled
by other invocations of this binary only take effect once a "deploy run"
process is converging them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c.orch.Start(ctx)
		fmt.Println("Orchestrator running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		cancel()
		c.orch.Stop()
		return nil
	},
}

// deploymentManifest is the YAML shape accepted by "deploy apply": a
// single deployment spec, not a multi-kind resource document.
type deploymentManifest struct {
	APIVersion string `yaml:"apiVersion"`
	Kind       string `yaml:"kind"`
	Metadata   struct {
		Name      string `yaml:"name"`
		Namespace string `yaml:"namespace"`
	} `yaml:"metadata"`
	Spec struct {
		Image    string            `yaml:"image"`
		Replicas int               `yaml:"replicas"`
		Env      map[string]string `yaml:"env"`
	} `yaml:"spec"`
}

var deployApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Create or update a deployment from a YAML manifest",
	Long: `Apply reads a single-deployment YAML manifest and creates the
deployment if it doesn't exist yet, or scales it to the manifest's
replica count if it does. It never deletes a deployment.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}

		var m deploymentManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
		if m.Kind != "" && m.Kind != "Deployment" {
			return fmt.Errorf("unsupported manifest kind %q", m.Kind)
		}
		if m.Spec.Replicas <= 0 {
			m.Spec.Replicas = 1
		}
		namespace := m.Metadata.Namespace
		if namespace == "" {
			namespace = "default"
		}

		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if existing, err := c.orch.GetStatus(m.Metadata.Name, namespace); err == nil {
			d, err := c.orch.Scale(existing.Name, namespace, m.Spec.Replicas)
			if err != nil {
				return err
			}
			fmt.Printf("Deployment updated: %s/%s (replicas=%d)\n", d.Namespace, d.Name, d.DesiredReplicas)
			return nil
		}

		d, err := c.orch.Deploy(orchestrator.DeploymentSpec{
			Name:            m.Metadata.Name,
			Namespace:       namespace,
			Image:           m.Spec.Image,
			DesiredReplicas: m.Spec.Replicas,
			EnvVars:         m.Spec.Env,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Deployment created: %s/%s (replicas=%d)\n", d.Namespace, d.Name, d.DesiredReplicas)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{deployCreateCmd, deployScaleCmd, deployDeleteCmd, deployStatusCmd} {
		c.Flags().String("namespace", "default", "Deployment namespace")
	}
	deployCreateCmd.Flags().Int("replicas", 1, "Desired replica count")
	deployCreateCmd.Flags().StringToString("env", nil, "Environment variables (KEY=VALUE)")

	deployApplyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	_ = deployApplyCmd.MarkFlagRequired("file")

	deployCmd.AddCommand(deployCreateCmd)
	deployCmd.AddCommand(deployScaleCmd)
	deployCmd.AddCommand(deployDeleteCmd)
	deployCmd.AddCommand(deployStatusCmd)
	deployCmd.AddCommand(deployListCmd)
	deployCmd.AddCommand(deployStatsCmd)
	deployCmd.AddCommand(deployRunCmd)
	deployCmd.AddCommand(deployApplyCmd)
}
