// Package cloudinit provides cloud-init configuration generation for
// instance provisioning.
//
// This package generates cloud-init configuration files (user-data,
// meta-data, network-config) following the official cloud-init NoCloud
// datasource specification.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/naming"
)

// UserData represents the cloud-config user-data structure.
// This is marshaled to YAML and prefixed with "#cloud-config" header.
//
// See https://cloudinit.readthedocs.io/en/latest/explanation/format.html#cloud-config-data
type UserData struct {
	Hostname          string   `yaml:"hostname"`
	FQDN              string   `yaml:"fqdn"`
	ManageEtcHosts    bool     `yaml:"manage_etc_hosts"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
	Users             []User   `yaml:"users,omitempty"`
	SSHPasswordAuth   bool     `yaml:"ssh_pwauth"`
}

// User represents a cloud-init user entry.
type User struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

// MetaData represents the cloud-init meta-data structure.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
type MetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// NetworkConfig represents the netplan v2 network configuration.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/network-config-format-v2.html
type NetworkConfig struct {
	Version   int                       `yaml:"version"`
	Ethernets map[string]EthernetConfig `yaml:"ethernets"`
}

// EthernetConfig represents a single ethernet interface configuration.
// Instances get their addresses over DHCP; interfaces are matched by MAC.
type EthernetConfig struct {
	Match MatchConfig `yaml:"match"`
	DHCP4 bool        `yaml:"dhcp4"`
}

// MatchConfig matches an interface by MAC address.
type MatchConfig struct {
	MACAddress string `yaml:"macaddress"`
}

// GenerateUserData generates the user-data YAML content for an instance.
//
// When the instance carries raw user-supplied cloud-config it is used
// verbatim; otherwise a config creating the SSH user with the authorized
// key is generated. Returns the complete user-data file content including
// the "#cloud-config" header.
func GenerateUserData(desc *v1alpha1.VirtualMachine) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("instance description cannot be nil")
	}

	if desc.Spec.CloudInit != nil && desc.Spec.CloudInit.UserData != "" {
		raw := desc.Spec.CloudInit.UserData
		if !strings.HasPrefix(raw, "#cloud-config") {
			return "", fmt.Errorf("user-supplied cloud-init data must start with #cloud-config")
		}
		return raw, nil
	}

	fqdn := desc.GetFQDN()
	hostname := strings.SplitN(fqdn, ".", 2)[0]

	userData := UserData{
		Hostname:        hostname,
		FQDN:            fqdn,
		ManageEtcHosts:  true,
		SSHPasswordAuth: false,
	}

	if key := desc.Spec.SSH.AuthorizedKey; key != "" {
		userData.SSHAuthorizedKeys = []string{key}
		userData.Users = []User{
			{
				Name:              desc.GetUsername(),
				Sudo:              "ALL=(ALL) NOPASSWD:ALL",
				Shell:             "/bin/bash",
				LockPasswd:        true,
				SSHAuthorizedKeys: []string{key},
			},
		}
	}

	yamlBytes, err := yaml.Marshal(&userData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal user-data to YAML: %w", err)
	}

	// The #cloud-config header is required by the cloud-init spec.
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData generates the meta-data YAML content for an instance.
//
// The instance-id is the instance UID when set, the name otherwise.
// Cloud-init uses instance-id to detect first boot, so a fresh UID makes
// cloud-init re-run when an instance is destroyed and recreated under the
// same name.
func GenerateMetaData(desc *v1alpha1.VirtualMachine) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("instance description cannot be nil")
	}

	instanceID := desc.UID
	if instanceID == "" {
		instanceID = desc.Name
	}

	metaData := MetaData{
		InstanceID:    instanceID,
		LocalHostname: desc.Name,
	}

	yamlBytes, err := yaml.Marshal(&metaData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal meta-data to YAML: %w", err)
	}

	return string(yamlBytes), nil
}

// GenerateNetworkConfig generates the network-config YAML content for the
// instance's extra bridged interfaces. Interfaces are matched by MAC and
// configured for DHCP; MACs not pinned by the description are derived from
// the instance name, the same derivation the backends assign to the device.
//
// Returns the empty string when the instance has no extra interfaces, in
// which case no network-config file should be written and cloud-init falls
// back to its default single-NIC DHCP behavior.
func GenerateNetworkConfig(desc *v1alpha1.VirtualMachine) (string, error) {
	if desc == nil {
		return "", fmt.Errorf("instance description cannot be nil")
	}

	if len(desc.Spec.Networks) == 0 {
		return "", nil
	}

	networkConfig := NetworkConfig{
		Version:   2,
		Ethernets: make(map[string]EthernetConfig),
	}

	// The management NIC keeps DHCP too; listing it here keeps netplan from
	// ignoring it once a network-config file exists at all. Its MAC follows
	// the same derivation the backends put on the device.
	managementMAC := desc.Status.MACAddress
	if managementMAC == "" {
		managementMAC = naming.MACFromName(desc.Name)
	}
	networkConfig.Ethernets["default"] = EthernetConfig{
		Match: MatchConfig{MACAddress: managementMAC},
		DHCP4: true,
	}

	for i, iface := range desc.Spec.Networks {
		mac := iface.MACAddress
		if mac == "" {
			mac = naming.MACFromName(desc.Name + "-" + iface.ID)
		}
		networkConfig.Ethernets[fmt.Sprintf("extra%d", i)] = EthernetConfig{
			Match: MatchConfig{MACAddress: mac},
			DHCP4: true,
		}
	}

	yamlBytes, err := yaml.Marshal(&networkConfig)
	if err != nil {
		return "", fmt.Errorf("failed to marshal network-config to YAML: %w", err)
	}

	return string(yamlBytes), nil
}
