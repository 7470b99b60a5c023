package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List instances",
	Long: `List all instances known to the active driver.

Shows name, state, driver, management IP, resources and age. Instance
states are reconciled from the backend before printing.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   Full YAML resource definitions
  -o json   Full JSON resource definitions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		vms, err := d.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list instances: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatVMList(vms)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Get details about an instance",
	Long: `Get detailed information about one instance.

Displays the full VirtualMachine resource including spec and status, with
the state freshly reconciled from the backend.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		vmObj, err := d.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get instance: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatVM(vmObj)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

var networksCmd = &cobra.Command{
	Use:   "networks",
	Short: "List host networks instances can bridge onto",
	Long: `List the host network interfaces the active driver can attach
instances to: bridges and physical ethernet devices found by the interface
scan. Wireless and virtual interfaces are excluded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		ctx := context.Background()
		d, err := openDaemon(ctx)
		if err != nil {
			return err
		}
		defer closeDaemon(d)

		infos, err := d.HostNetworks(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan host networks: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatNetworkList(infos)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		fmt.Print(result)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{listCmd, getCmd, networksCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, yaml or json")
		cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit table headers")
	}
}
