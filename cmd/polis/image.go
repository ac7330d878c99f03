package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wendelmax/polis/pkg/types"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage OCI images",
}

var imagePullCmd = &cobra.Command{
	Use:   "pull NAME",
	Short: "Pull an image into the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		img, err := c.images.Pull(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Image pulled: %s\n", img.ID)
		fmt.Printf("  Name: %s\n", img.Name)
		fmt.Printf("  Tag: %s\n", img.Tag)
		fmt.Printf("  Size: %d bytes\n", img.Size)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached images",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		images, err := c.images.ListImages()
		if err != nil {
			return err
		}
		if len(images) == 0 {
			fmt.Println("No images found")
			return nil
		}

		fmt.Printf("%-40s %-20s %-10s %-12s\n", "ID", "NAME", "TAG", "SIZE")
		fmt.Println(strings.Repeat("-", 90))
		for _, img := range images {
			fmt.Printf("%-40s %-20s %-10s %-12d\n", img.ID, img.Name, img.Tag, img.Size)
		}
		return nil
	},
}

var imageInspectCmd = &cobra.Command{
	Use:   "inspect ID",
	Short: "Display detailed information about an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		img, err := c.images.GetImage(types.ImageId(args[0]))
		if err != nil {
			return err
		}

		fmt.Printf("ID: %s\n", img.ID)
		fmt.Printf("Name: %s\n", img.Name)
		fmt.Printf("Tag: %s\n", img.Tag)
		fmt.Printf("Digest: %s\n", img.Digest)
		fmt.Printf("Architecture: %s\n", img.Architecture)
		fmt.Printf("OS: %s\n", img.OS)
		fmt.Printf("Size: %d bytes\n", img.Size)
		fmt.Printf("Layers: %d\n", len(img.Layers))
		return nil
	},
}

var imageRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove an image from the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadComponents(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.images.RemoveImage(types.ImageId(args[0])); err != nil {
			return err
		}
		fmt.Printf("Image removed: %s\n", args[0])
		return nil
	},
}

func init() {
	imageCmd.AddCommand(imagePullCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageInspectCmd)
	imageCmd.AddCommand(imageRemoveCmd)
}
