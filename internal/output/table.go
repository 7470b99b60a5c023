package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/netscan"
)

// TableFormatter formats resources as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatVM formats a single VirtualMachine as a table row.
func (f *TableFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	return f.FormatVMList([]*v1alpha1.VirtualMachine{vm})
}

// FormatVMList formats a list of VirtualMachines as a table.
func (f *TableFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "No instances found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tSTATE\tDRIVER\tIP\tVCPUs\tMEMORY\tAGE")
	}

	for _, vm := range vms {
		state := vm.Status.State
		if state == "" {
			state = "-"
		}
		driver := vm.Status.Driver
		if driver == "" {
			driver = "-"
		}

		ip := "-"
		if addr := vm.GetAddress(v1alpha1.AddressTypeIPv4); addr != "" {
			ip = addr
		}

		age := "-"
		if !vm.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(vm.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d MiB\t%s\n",
			vm.Name, state, driver, ip, vm.Spec.VCPUs, vm.Spec.MemoryMiB, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// FormatNetworkList formats host interfaces as a table.
func (f *TableFormatter) FormatNetworkList(infos map[string]netscan.InterfaceInfo) (string, error) {
	if len(infos) == 0 {
		return "No usable host networks found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tTYPE\tDESCRIPTION")
	}

	for _, view := range sortedNetworks(infos) {
		desc := view.Description
		if desc == "" {
			desc = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", view.ID, view.Type, desc)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	years := days / 365
	if years > 0 {
		return fmt.Sprintf("%dy", years)
	}

	return fmt.Sprintf("%dd", days)
}
