// Package loader provides functions for loading VirtualMachine resources
// from YAML files.
package loader

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/naming"
)

// LoadFromFile loads a VirtualMachine resource from a YAML file.
// The file must be in the crucible.cofront.xyz/v1alpha1 format.
func LoadFromFile(path string) (*v1alpha1.VirtualMachine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	return LoadFromYAML(data)
}

// LoadFromYAML loads a VirtualMachine resource from YAML bytes.
// The YAML must be in the crucible.cofront.xyz/v1alpha1 format.
func LoadFromYAML(data []byte) (*v1alpha1.VirtualMachine, error) {
	var vm v1alpha1.VirtualMachine
	if err := yaml.Unmarshal(data, &vm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	if vm.APIVersion == "" {
		return nil, fmt.Errorf("missing required field: apiVersion")
	}
	if vm.Kind == "" {
		return nil, fmt.Errorf("missing required field: kind")
	}

	expectedAPIVersion := v1alpha1.GroupName + "/" + v1alpha1.Version
	if vm.APIVersion != expectedAPIVersion {
		return nil, fmt.Errorf("unsupported apiVersion: %s (expected: %s)", vm.APIVersion, expectedAPIVersion)
	}
	if vm.Kind != v1alpha1.VirtualMachineKind {
		return nil, fmt.Errorf("unsupported kind: %s (expected: %s)", vm.Kind, v1alpha1.VirtualMachineKind)
	}

	applyDefaults(&vm)
	vm.Normalize()

	if err := validateSpec(&vm); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &vm, nil
}

// SaveToFile saves a VirtualMachine resource to a YAML file.
func SaveToFile(vm *v1alpha1.VirtualMachine, path string) error {
	v1alpha1.SetDefaultAPIVersion(vm)

	data, err := yaml.Marshal(vm)
	if err != nil {
		return fmt.Errorf("failed to marshal VM to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}

// applyDefaults sets default values for optional fields.
func applyDefaults(vm *v1alpha1.VirtualMachine) {
	if vm.Spec.VCPUs == 0 {
		vm.Spec.VCPUs = 1
	}
	if vm.Spec.MemoryMiB == 0 {
		vm.Spec.MemoryMiB = 1024
	}
	if vm.Spec.DiskGB == 0 {
		vm.Spec.DiskGB = 5
	}
	if vm.Status.Phase == "" {
		vm.Status.Phase = v1alpha1.VMPhasePending
	}
}

// validateSpec validates the VirtualMachine spec for required fields and
// consistency.
func validateSpec(vm *v1alpha1.VirtualMachine) error {
	if vm.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if err := naming.ValidateInstanceName(vm.Name); err != nil {
		return fmt.Errorf("metadata.name: %w", err)
	}

	if vm.Spec.VCPUs <= 0 {
		return fmt.Errorf("spec.vcpus must be greater than 0")
	}
	if vm.Spec.MemoryMiB <= 0 {
		return fmt.Errorf("spec.memoryMiB must be greater than 0")
	}
	if vm.Spec.DiskGB <= 0 {
		return fmt.Errorf("spec.diskGB must be greater than 0")
	}

	if vm.Spec.Image == "" {
		return fmt.Errorf("spec.image is required")
	}

	idsSeen := make(map[string]bool)
	for i, iface := range vm.Spec.Networks {
		if iface.ID == "" {
			return fmt.Errorf("spec.networks[%d].id is required", i)
		}
		if iface.Mode != v1alpha1.NetworkModeBridged {
			return fmt.Errorf("spec.networks[%d].mode %q is not supported", i, iface.Mode)
		}
		if iface.MACAddress != "" {
			if _, err := net.ParseMAC(iface.MACAddress); err != nil {
				return fmt.Errorf("spec.networks[%d].macAddress %q is invalid", i, iface.MACAddress)
			}
		}
		if idsSeen[iface.ID] {
			return fmt.Errorf("spec.networks[%d].id %q is duplicated", i, iface.ID)
		}
		idsSeen[iface.ID] = true
	}

	if key := vm.Spec.SSH.AuthorizedKey; key != "" {
		if _, _, _, _, err := ssh.ParseAuthorizedKey([]byte(key)); err != nil {
			return fmt.Errorf("spec.ssh.authorizedKey is not a valid public key: %w", err)
		}
	}

	return nil
}
