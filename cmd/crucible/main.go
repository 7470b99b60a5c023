package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/daemon"
	"github.com/jbweber/crucible/internal/loader"
	"github.com/jbweber/crucible/internal/settings"
)

var (
	version = "dev"
	commit  = "unknown"
)

// defaultSettingsPath is where the daemon configuration lives unless
// overridden with --config.
const defaultSettingsPath = "/etc/crucible/config.yaml"

var (
	settingsPath string
	outputFormat string
	noHeaders    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - disposable VM launcher",
	Long: `Crucible launches disposable virtual machines over interchangeable
hypervisor backends (qemu, libvirt, lxd).

Instances are described with declarative YAML files; the active backend is
selected in the daemon settings file and every instance is driven through
the same lifecycle regardless of the hypervisor behind it.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", defaultSettingsPath, "path to the daemon settings file")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(suspendCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(networksCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(doctorCmd)
}

// openDaemon loads settings, builds the configured backend and adopts the
// persisted instances. Callers must Close the returned daemon.
func openDaemon(ctx context.Context) (*daemon.Daemon, error) {
	cfg, err := settings.LoadFromFile(settingsPath)
	if err != nil {
		return nil, err
	}
	return daemon.Open(ctx, cfg)
}

var launchTimeout time.Duration

var launchCmd = &cobra.Command{
	Use:   "launch <description.yaml>",
	Short: "Launch a new instance from a description file",
	Long: `Launch a new virtual machine from a YAML launch description.

The description defines the instance's resources (CPU, memory, disk), its
guest image, extra bridged networks, and the SSH credentials baked in via
cloud-init. The command waits until the guest answers on SSH.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		desc, err := loader.LoadFromFile(args[0])
		if err != nil {
			return err
		}

		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)
		d.SetReadyTimeout(launchTimeout)

		fmt.Printf("Launching %s on the %s driver...\n", desc.Name, d.Driver())
		machine, err := d.Launch(ctx, desc)
		if err != nil {
			return fmt.Errorf("failed to launch instance: %w", err)
		}

		hostname, herr := machine.SSHHostname(ctx, 10*time.Second)
		if herr != nil {
			hostname = "<pending>"
		}
		fmt.Printf("✓ Instance %s is running\n", machine.Name())
		fmt.Printf("  ssh %s@%s -p %d\n", machine.SSHUsername(), hostname, machine.SSHPort())
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a stopped or suspended instance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		if err := d.Start(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to start instance: %w", err)
		}
		fmt.Printf("✓ Instance %s started\n", args[0])
		return nil
	},
}

var stopForce bool

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a running instance",
	Long: `Stop a running instance.

Without --force the guest is asked to shut down and given a grace window
before the backend escalates to a forced power-off.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		if err := d.Stop(ctx, args[0], stopForce); err != nil {
			return fmt.Errorf("failed to stop instance: %w", err)
		}
		fmt.Printf("✓ Instance %s stopped\n", args[0])
		return nil
	},
}

var suspendCmd = &cobra.Command{
	Use:   "suspend <name>",
	Short: "Suspend a running instance to disk",
	Long: `Suspend a running instance, saving its state to disk.

Only drivers with state-save support (qemu, libvirt) can suspend; the lxd
driver rejects the operation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		if err := d.Suspend(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to suspend instance: %w", err)
		}
		fmt.Printf("✓ Instance %s suspended\n", args[0])
		return nil
	},
}

var deleteForce bool

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an instance",
	Long: `Delete an instance and all its backend resources.

A running instance is refused unless --force is given, in which case it is
forcibly stopped first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		if err := d.Delete(ctx, args[0], deleteForce); err != nil {
			return fmt.Errorf("failed to delete instance: %w", err)
		}
		fmt.Printf("✓ Instance %s deleted\n", args[0])
		return nil
	},
}

func init() {
	launchCmd.Flags().DurationVar(&launchTimeout, "timeout", 5*time.Minute, "how long to wait for the guest to answer on SSH")
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "power off without a graceful shutdown")
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "stop a running instance before deleting it")
}

func closeDaemon(d *daemon.Daemon) {
	if err := d.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to release backend resources: %v\n", err)
	}
}
