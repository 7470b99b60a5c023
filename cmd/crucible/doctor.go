package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/platform"
	"github.com/jbweber/crucible/internal/settings"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check backend connectivity",
	Long: `Check that the configured hypervisor backend is reachable.

Resolves the driver from settings, builds its backend, lists the host
networks it can bridge onto and reports the driver's capabilities.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := settings.LoadFromFile(settingsPath)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Settings loaded from %s\n", settingsPath)

		driver, err := platform.Resolve(cfg.Driver)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Driver: %s\n", driver)

		caps := platform.CapabilitiesFor(driver)
		fmt.Printf("✓ Image remotes: %v\n", caps.Remotes)

		factory, err := platform.NewBackend(ctx, driver, cfg.StoragePath)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := factory.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close backend connection: %v\n", closeErr)
			}
		}()
		fmt.Println("✓ Backend connected")

		// Drivers with a managed bridge report it; the name is owned by
		// the backend and looked up fresh on every call.
		type bridged interface {
			ManagementBridge() (string, error)
		}
		if b, ok := factory.(bridged); ok {
			bridge, err := b.ManagementBridge()
			if err != nil {
				return fmt.Errorf("management bridge lookup failed: %w", err)
			}
			fmt.Printf("✓ Management bridge: %s\n", bridge)
		}

		infos, err := factory.HostNetworks(ctx)
		if err != nil {
			return fmt.Errorf("host network scan failed: %w", err)
		}
		fmt.Printf("✓ Host networks visible: %d\n", len(infos))

		fmt.Println("\nBackend check successful!")
		return nil
	},
}
