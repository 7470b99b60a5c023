package v1alpha1

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// GroupName is the API group for Crucible resources.
	GroupName = "crucible.cofront.xyz"

	// Version is the API version.
	Version = "v1alpha1"

	// VirtualMachineKind is the kind string for VirtualMachine resources.
	VirtualMachineKind = "VirtualMachine"

	// DefaultUsername is the guest account provisioned when the launch
	// description does not name one.
	DefaultUsername = "ubuntu"

	// NetworkModeBridged is the only supported attachment mode for extra
	// network interfaces.
	NetworkModeBridged = "bridged"
)

// NewVirtualMachine creates a new VirtualMachine with TypeMeta and ObjectMeta
// defaults populated.
func NewVirtualMachine(name string) *VirtualMachine {
	return &VirtualMachine{
		TypeMeta: TypeMeta{
			APIVersion: GroupName + "/" + Version,
			Kind:       VirtualMachineKind,
		},
		ObjectMeta: ObjectMeta{
			Name:              name,
			UID:               uuid.New().String(),
			CreationTimestamp: Now(),
		},
		Spec: VirtualMachineSpec{
			VCPUs:     1,
			MemoryMiB: 1024,
			DiskGB:    5,
			SSH: SSHSpec{
				Username: DefaultUsername,
			},
		},
		Status: VirtualMachineStatus{
			Phase: VMPhasePending,
		},
	}
}

// SetDefaultAPIVersion ensures the VM has the correct apiVersion and kind.
// Useful when loading from files that might be missing these fields.
func SetDefaultAPIVersion(vm *VirtualMachine) {
	if vm.APIVersion == "" {
		vm.APIVersion = GroupName + "/" + Version
	}
	if vm.Kind == "" {
		vm.Kind = VirtualMachineKind
	}
}

// GetName returns the instance name from metadata.
func (vm *VirtualMachine) GetName() string {
	return vm.Name
}

// GetUsername returns the guest account with default fallback.
func (vm *VirtualMachine) GetUsername() string {
	if vm.Spec.SSH.Username == "" {
		return DefaultUsername
	}
	return vm.Spec.SSH.Username
}

// GetFQDN returns the guest FQDN, defaulting to the instance name.
func (vm *VirtualMachine) GetFQDN() string {
	if vm.Spec.CloudInit != nil && vm.Spec.CloudInit.FQDN != "" {
		return vm.Spec.CloudInit.FQDN
	}
	return vm.Name
}

// ImageRemote splits an image reference ("release:noble") and returns the
// remote part, or "" for a bare alias.
func ImageRemote(ref string) string {
	remote, _, found := strings.Cut(ref, ":")
	if !found {
		return ""
	}
	return remote
}

// ImageAlias splits an image reference and returns the alias part.
func ImageAlias(ref string) string {
	remote, alias, found := strings.Cut(ref, ":")
	if !found {
		return remote
	}
	return alias
}

// ImageRemote returns the remote part of the instance's image reference.
func (vm *VirtualMachine) ImageRemote() string {
	return ImageRemote(vm.Spec.Image)
}

// ImageAlias returns the alias part of the instance's image reference.
func (vm *VirtualMachine) ImageAlias() string {
	return ImageAlias(vm.Spec.Image)
}

// SetPhase sets the coarse phase in status.
func (vm *VirtualMachine) SetPhase(phase VMPhase) {
	vm.Status.Phase = phase
}

// GetPhase returns the current coarse phase.
func (vm *VirtualMachine) GetPhase() VMPhase {
	return vm.Status.Phase
}

// SetAddress records or replaces the address of the given type in status.
func (vm *VirtualMachine) SetAddress(addrType, address string) {
	for i := range vm.Status.Addresses {
		if vm.Status.Addresses[i].Type == addrType {
			vm.Status.Addresses[i].Address = address
			return
		}
	}
	vm.Status.Addresses = append(vm.Status.Addresses, VMAddress{
		Type:    addrType,
		Address: address,
	})
}

// GetAddress returns the address of the given type, or "".
func (vm *VirtualMachine) GetAddress(addrType string) string {
	for _, addr := range vm.Status.Addresses {
		if addr.Type == addrType {
			return addr.Address
		}
	}
	return ""
}

// Normalize sanitizes user input to consistent formats.
// This is called automatically before validation.
func (vm *VirtualMachine) Normalize() {
	vm.Name = strings.ToLower(strings.TrimSpace(vm.Name))

	if vm.Spec.CloudInit != nil {
		vm.Spec.CloudInit.FQDN = strings.ToLower(strings.TrimSpace(vm.Spec.CloudInit.FQDN))
	}

	for i := range vm.Spec.Networks {
		if vm.Spec.Networks[i].Mode == "" {
			vm.Spec.Networks[i].Mode = NetworkModeBridged
		}
	}

	if vm.Spec.SSH.Username == "" {
		vm.Spec.SSH.Username = DefaultUsername
	}
}
