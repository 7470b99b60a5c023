package libvirt

import (
	"fmt"

	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/naming"
)

// NetworkName is the libvirt network instances attach their management
// interface to. The factory creates it on first use.
const NetworkName = "crucible"

// managementMAC returns the MAC for the instance's management interface,
// deterministic from the name unless already recorded.
func managementMAC(desc *v1alpha1.VirtualMachine) string {
	if desc.Status.MACAddress != "" {
		return desc.Status.MACAddress
	}
	return naming.MACFromName(desc.Name)
}

// extraMAC returns the MAC for an extra bridged interface, pinned by the
// spec or deterministic from instance name and host interface ID.
func extraMAC(desc *v1alpha1.VirtualMachine, spec v1alpha1.NetworkSpec) string {
	if spec.MACAddress != "" {
		return spec.MACAddress
	}
	return naming.MACFromName(desc.Name + "-" + spec.ID)
}

// generateDomainXML builds the libvirt domain definition for an instance:
// a kvm guest with the qcow2 overlay as vda, the cloud-init seed as a sata
// cdrom, a management NIC on the crucible network, and one bridged NIC per
// extra network.
func generateDomainXML(desc *v1alpha1.VirtualMachine, bootDiskPath, seedPath string) (string, error) {
	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: desc.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(desc.Spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(desc.Spec.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	domain.Devices.Disks = []libvirtxml.DomainDisk{
		{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{
				Name:  "qemu",
				Type:  "qcow2",
				Cache: "none",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: bootDiskPath,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "vda",
				Bus: "virtio",
			},
			Boot: &libvirtxml.DomainDeviceBoot{
				Order: 1,
			},
		},
		{
			Device: "cdrom",
			Driver: &libvirtxml.DomainDiskDriver{
				Name: "qemu",
				Type: "raw",
			},
			Source: &libvirtxml.DomainDiskSource{
				File: &libvirtxml.DomainDiskSourceFile{
					File: seedPath,
				},
			},
			Target: &libvirtxml.DomainDiskTarget{
				Dev: "sda",
				Bus: "sata",
			},
			ReadOnly: &libvirtxml.DomainDiskReadOnly{},
		},
	}

	// Management NIC on the crucible network.
	domain.Devices.Interfaces = []libvirtxml.DomainInterface{
		{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: managementMAC(desc),
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{
					Network: NetworkName,
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: "virtio",
			},
		},
	}

	// Extra NICs attach straight to the named host bridges.
	for _, spec := range desc.Spec.Networks {
		domain.Devices.Interfaces = append(domain.Devices.Interfaces, libvirtxml.DomainInterface{
			MAC: &libvirtxml.DomainInterfaceMAC{
				Address: extraMAC(desc, spec),
			},
			Source: &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{
					Bridge: spec.ID,
				},
			},
			Model: &libvirtxml.DomainInterfaceModel{
				Type: "virtio",
			},
		})
	}

	// Serial console for debugging boot problems.
	domain.Devices.Serials = []libvirtxml.DomainSerial{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainSerialTarget{
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}
	domain.Devices.Consoles = []libvirtxml.DomainConsole{
		{
			Source: &libvirtxml.DomainChardevSource{
				Pty: &libvirtxml.DomainChardevSourcePty{},
			},
			Target: &libvirtxml.DomainConsoleTarget{
				Type: "serial",
				Port: func() *uint { p := uint(0); return &p }(),
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML: %w", err)
	}
	return xml, nil
}

// generateNetworkXML builds the definition of the crucible NAT network.
func generateNetworkXML() (string, error) {
	network := &libvirtxml.Network{
		Name: NetworkName,
		Forward: &libvirtxml.NetworkForward{
			Mode: "nat",
		},
		Bridge: &libvirtxml.NetworkBridge{
			Name: "virbr-crucible",
			STP:  "on",
		},
		IPs: []libvirtxml.NetworkIP{
			{
				Address: "10.77.77.1",
				Netmask: "255.255.255.0",
				DHCP: &libvirtxml.NetworkDHCP{
					Ranges: []libvirtxml.NetworkDHCPRange{
						{Start: "10.77.77.2", End: "10.77.77.254"},
					},
				},
			},
		},
	}

	xml, err := network.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal network XML: %w", err)
	}
	return xml, nil
}
