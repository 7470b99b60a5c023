package output

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/netscan"
)

// YAMLFormatter formats resources as YAML.
type YAMLFormatter struct{}

// FormatVM formats a single VirtualMachine as YAML.
func (f *YAMLFormatter) FormatVM(vm *v1alpha1.VirtualMachine) (string, error) {
	v1alpha1.SetDefaultAPIVersion(vm)

	data, err := yaml.Marshal(vm)
	if err != nil {
		return "", fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}

	return string(data), nil
}

// FormatVMList formats a list of VirtualMachines as a YAML stream
// (multiple documents separated by ---).
func (f *YAMLFormatter) FormatVMList(vms []*v1alpha1.VirtualMachine) (string, error) {
	if len(vms) == 0 {
		return "", nil
	}

	var buf bytes.Buffer

	for i, vm := range vms {
		v1alpha1.SetDefaultAPIVersion(vm)

		data, err := yaml.Marshal(vm)
		if err != nil {
			return "", fmt.Errorf("failed to marshal VM %s to YAML: %w", vm.Name, err)
		}

		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(data)
	}

	return buf.String(), nil
}

// FormatNetworkList formats host interfaces as a YAML list.
func (f *YAMLFormatter) FormatNetworkList(infos map[string]netscan.InterfaceInfo) (string, error) {
	data, err := yaml.Marshal(sortedNetworks(infos))
	if err != nil {
		return "", fmt.Errorf("failed to marshal networks to YAML: %w", err)
	}
	return string(data), nil
}
