package lxd

import (
	"fmt"
	"strconv"

	"github.com/canonical/lxd/shared/api"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/cloudinit"
	"github.com/jbweber/crucible/internal/naming"
)

// NetworkName is the managed LXD network instances attach their management
// interface to. The factory creates it on first use.
const NetworkName = "crucible"

// storagePool backs instance root disks. LXD's default pool is used as is;
// pool management is LXD's business.
const storagePool = "default"

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

// buildInstanceRequest translates the launch description into the LXD create
// request: a VM-type instance sized by the description, provisioned through
// cloud-init config keys instead of a seed image, with a management NIC on
// the crucible network and one bridged NIC per extra network.
func buildInstanceRequest(desc *v1alpha1.VirtualMachine) (api.InstancesPost, error) {
	userData, err := cloudinit.GenerateUserData(desc)
	if err != nil {
		return api.InstancesPost{}, err
	}

	config := map[string]string{
		"limits.cpu":          strconv.Itoa(desc.Spec.VCPUs),
		"limits.memory":       fmt.Sprintf("%dMiB", desc.Spec.MemoryMiB),
		"cloud-init.user-data": userData,
	}

	networkConfig, err := cloudinit.GenerateNetworkConfig(desc)
	if err != nil {
		return api.InstancesPost{}, err
	}
	if networkConfig != "" {
		config["cloud-init.network-config"] = networkConfig
	}

	devices := map[string]map[string]string{
		"root": {
			"type": "disk",
			"path": "/",
			"pool": storagePool,
			"size": fmt.Sprintf("%dGiB", desc.Spec.DiskGB),
		},
		"eth0": {
			"type":    "nic",
			"name":    "eth0",
			"network": NetworkName,
			"hwaddr":  managementMAC(desc),
		},
	}
	for i, spec := range desc.Spec.Networks {
		devices[fmt.Sprintf("eth%d", i+1)] = map[string]string{
			"type":    "nic",
			"name":    fmt.Sprintf("eth%d", i+1),
			"nictype": "bridged",
			"parent":  spec.ID,
			"hwaddr":  extraMAC(desc, spec),
		}
	}

	return api.InstancesPost{
		Name: desc.Name,
		Type: api.InstanceTypeVM,
		Source: api.InstanceSource{
			Type:  "image",
			Alias: v1alpha1.ImageAlias(desc.Spec.Image),
		},
		InstancePut: api.InstancePut{
			Config:  config,
			Devices: devices,
		},
	}, nil
}
