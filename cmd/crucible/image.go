package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/images"
	"github.com/jbweber/crucible/internal/settings"
)

// Image management commands. These work directly on the image store under
// the storage path; no backend connection is needed.
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage base images",
	Long: `Manage the base OS images instances boot from.

Base images are qcow2 files used as backing stores for instance boot disks,
so launching an instance never duplicates the image on disk.`,
}

func init() {
	imageCmd.AddCommand(imageImportCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageDeleteCmd)
}

// imageStore builds the image store from the configured storage path.
func imageStore() (*images.Store, error) {
	cfg, err := settings.LoadFromFile(settingsPath)
	if err != nil {
		return nil, err
	}
	return images.NewStore(cfg.StoragePath), nil
}

var imageImportCmd = &cobra.Command{
	Use:   "import <source-path> <alias>",
	Short: "Import a base image",
	Long: `Import a base OS image from a local file.

The image is converted to qcow2 and stored under the configured storage
path. Launch descriptions reference it by alias.

Example:
  crucible image import /path/to/noble-server-cloudimg-amd64.img noble`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sourcePath, alias := args[0], args[1]

		store, err := imageStore()
		if err != nil {
			return err
		}

		exists, err := store.Exists(alias)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("image %s already exists", alias)
		}

		fmt.Printf("Importing image from %s as %s...\n", sourcePath, alias)
		if err := store.Import(sourcePath, alias); err != nil {
			return err
		}
		fmt.Printf("✓ Image %s imported successfully\n", alias)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List imported base images",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := imageStore()
		if err != nil {
			return err
		}

		infos, err := store.List()
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No images imported")
			return nil
		}

		fmt.Printf("%-30s %10s  %s\n", "ALIAS", "SIZE", "PATH")
		fmt.Println(strings.Repeat("-", 80))
		for _, info := range infos {
			fmt.Printf("%-30s %8.1fGB  %s\n",
				info.Alias,
				float64(info.SizeBytes)/(1024*1024*1024),
				info.Path,
			)
		}
		fmt.Printf("\nTotal: %d image(s)\n", len(infos))
		return nil
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <alias>",
	Short: "Delete an imported base image",
	Long: `Delete a base OS image from the store.

Warning: instances whose boot disks back onto this image become unusable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		alias := args[0]

		store, err := imageStore()
		if err != nil {
			return err
		}

		exists, err := store.Exists(alias)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("image %s not found", alias)
		}

		if err := store.Delete(alias); err != nil {
			return err
		}
		fmt.Printf("✓ Image %s deleted successfully\n", alias)
		return nil
	},
}
