package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wendelmax/polis/pkg/types"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Manage volumes",
}

var volumeCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		driver, _ := cmd.Flags().GetString("driver")
		opts, _ := cmd.Flags().GetStringToString("opt")

		vol, err := c.volumes.CreateVolume(args[0], types.VolumeDriverKind(driver), opts, nil)
		if err != nil {
			return err
		}

		fmt.Printf("Volume created: %s\n", vol.Name)
		fmt.Printf("  Mountpoint: %s\n", vol.Mountpoint)
		fmt.Printf("  Driver: %s\n", vol.Driver)
		return nil
	},
}

var volumeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List volumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		volumes := c.volumes.ListVolumes()
		if len(volumes) == 0 {
			fmt.Println("No volumes found")
			return nil
		}

		fmt.Printf("%-20s %-10s %-10s %s\n", "NAME", "DRIVER", "IN USE", "MOUNTPOINT")
		fmt.Println(strings.Repeat("-", 90))
		for _, vol := range volumes {
			fmt.Printf("%-20s %-10s %-10t %s\n", vol.Name, vol.Driver, vol.InUse(), vol.Mountpoint)
		}
		return nil
	},
}

var volumeInspectCmd = &cobra.Command{
	Use:   "inspect NAME",
	Short: "Display detailed information about a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		vol, err := c.volumes.GetVolume(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Name: %s\n", vol.Name)
		fmt.Printf("Driver: %s\n", vol.Driver)
		fmt.Printf("Mountpoint: %s\n", vol.Mountpoint)
		fmt.Printf("In Use: %t (ref_count=%d)\n", vol.InUse(), vol.RefCount)
		fmt.Printf("Created: %s\n", vol.CreatedAt.Format("2006-01-02 15:04:05"))

		stats, err := c.volumes.GetVolumeStats(args[0])
		if err == nil {
			fmt.Printf("Size: %d bytes\n", stats.Size)
		}
		return nil
	},
}

var volumeRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a volume",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		force, _ := cmd.Flags().GetBool("force")
		if err := c.volumes.RemoveVolume(args[0], force); err != nil {
			return err
		}
		fmt.Printf("Volume removed: %s\n", args[0])
		return nil
	},
}

var volumePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove every unused volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		force, _ := cmd.Flags().GetBool("force")
		result, err := c.volumes.PruneVolumes(force)
		if err != nil {
			return err
		}

		if force {
			fmt.Printf("Removed %d volume(s), freed %d bytes\n", len(result.Removed), result.SpaceFreed)
		} else {
			fmt.Printf("Would remove %d volume(s), freeing %d bytes (pass --force to actually remove)\n", len(result.Removed), result.SpaceFreed)
		}
		return nil
	},
}

func init() {
	volumeCreateCmd.Flags().String("driver", string(types.VolumeDriverLocal), "Volume driver")
	volumeCreateCmd.Flags().StringToString("opt", nil, "Driver options (KEY=VALUE)")

	volumeRemoveCmd.Flags().Bool("force", false, "Remove even if in use")
	volumePruneCmd.Flags().Bool("force", false, "Actually remove idle volumes (default: dry run)")

	volumeCmd.AddCommand(volumeCreateCmd)
	volumeCmd.AddCommand(volumeListCmd)
	volumeCmd.AddCommand(volumeInspectCmd)
	volumeCmd.AddCommand(volumeRemoveCmd)
	volumeCmd.AddCommand(volumePruneCmd)
}
