package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wendelmax/polis/pkg/runtime"
	"github.com/wendelmax/polis/pkg/types"
)

var containerCmd = &cobra.Command{
	Use:   "container",
	Short: "Manage containers",
}

var containerCreateCmd = &cobra.Command{
	Use:   "create NAME IMAGE [-- COMMAND...]",
	Short: "Create a container",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		name, imageRef, command := args[0], args[1], args[2:]
		env, _ := cmd.Flags().GetStringToString("env")
		mem, _ := cmd.Flags().GetInt64("memory")
		cpus, _ := cmd.Flags().GetFloat64("cpus")

		id, err := c.engine.CreateContainer(name, imageRef, command, runtime.CreateOptions{
			Env: env,
			ResourceLimits: types.ResourceLimits{
				MemoryLimit: mem,
				CPUQuota:    cpus,
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("Container created: %s\n", id)
		return nil
	},
}

var containerStartCmd = &cobra.Command{
	Use:   "start ID",
	Short: "Start a created container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.engine.StartContainer(context.Background(), types.ContainerId(args[0])); err != nil {
			return err
		}
		fmt.Printf("Container started: %s\n", args[0])
		return nil
	},
}

var containerStopCmd = &cobra.Command{
	Use:   "stop ID",
	Short: "Stop a running container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.engine.StopContainer(context.Background(), types.ContainerId(args[0])); err != nil {
			return err
		}
		fmt.Printf("Container stopped: %s\n", args[0])
		return nil
	},
}

var containerPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Pause a running container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.engine.PauseContainer(context.Background(), types.ContainerId(args[0]))
	},
}

var containerUnpauseCmd = &cobra.Command{
	Use:   "unpause ID",
	Short: "Resume a paused container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.engine.UnpauseContainer(context.Background(), types.ContainerId(args[0]))
	},
}

var containerRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a created or stopped container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		return c.engine.RemoveContainer(context.Background(), types.ContainerId(args[0]))
	},
}

var containerInspectCmd = &cobra.Command{
	Use:   "inspect ID",
	Short: "Display detailed information about a container",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctr, err := c.engine.GetContainer(types.ContainerId(args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("ID: %s\n", ctr.ID)
		fmt.Printf("Name: %s\n", ctr.Name)
		fmt.Printf("Image: %s\n", ctr.Image)
		fmt.Printf("Status: %s\n", ctr.Status)
		fmt.Printf("PID: %d\n", ctr.PID)
		if ctr.ExitCode != nil {
			fmt.Printf("Exit Code: %d\n", *ctr.ExitCode)
		}
		return nil
	},
}

var containerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List containers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		containers := c.engine.ListContainers()
		if len(containers) == 0 {
			fmt.Println("No containers found")
			return nil
		}

		fmt.Printf("%-36s %-20s %-30s %-10s\n", "ID", "NAME", "IMAGE", "STATUS")
		fmt.Println(strings.Repeat("-", 100))
		for _, ctr := range containers {
			fmt.Printf("%-36s %-20s %-30s %-10s\n", ctr.ID, ctr.Name, ctr.Image, ctr.Status)
		}
		return nil
	},
}

func init() {
	containerCreateCmd.Flags().StringToString("env", nil, "Environment variables (KEY=VALUE)")
	containerCreateCmd.Flags().Int64("memory", 0, "Memory limit in bytes (0 = unlimited)")
	containerCreateCmd.Flags().Float64("cpus", 0, "CPU quota as a fraction of a core (0 = unlimited)")

	containerCmd.AddCommand(containerCreateCmd)
	containerCmd.AddCommand(containerStartCmd)
	containerCmd.AddCommand(containerStopCmd)
	containerCmd.AddCommand(containerPauseCmd)
	containerCmd.AddCommand(containerUnpauseCmd)
	containerCmd.AddCommand(containerRemoveCmd)
	containerCmd.AddCommand(containerInspectCmd)
	containerCmd.AddCommand(containerListCmd)
}
