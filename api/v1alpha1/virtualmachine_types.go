package v1alpha1

// VirtualMachine represents a disposable instance managed by Crucible.
//
// The resource separates the launch description (Spec) from observed state
// (Status). The Spec is owned by the daemon: it is handed to the active
// backend at creation time and is immutable for as long as the instance
// exists. Status is maintained by the daemon's status recorder as the
// instance moves through its lifecycle.
type VirtualMachine struct {
	// TypeMeta contains the API version and kind.
	TypeMeta `json:",inline" yaml:",inline"`

	// ObjectMeta contains metadata like name, labels, annotations.
	// +optional
	ObjectMeta `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// Spec defines the desired shape of the instance.
	Spec VirtualMachineSpec `json:"spec" yaml:"spec"`

	// Status defines the observed state of the instance.
	// Populated by Crucible during lifecycle operations.
	// +optional
	Status VirtualMachineStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// VirtualMachineSpec is the launch description for an instance.
//
// All sizing values are passed through to the backend as configured; Crucible
// imposes no scheduling policy of its own.
type VirtualMachineSpec struct {
	// VCPUs is the number of virtual CPUs to allocate.
	VCPUs int `json:"vcpus" yaml:"vcpus"`

	// MemoryMiB is the amount of memory to allocate in mebibytes.
	MemoryMiB int `json:"memoryMiB" yaml:"memoryMiB"`

	// DiskGB is the size of the instance's root disk in gigabytes.
	DiskGB int `json:"diskGB" yaml:"diskGB"`

	// Image is the guest image reference, either a bare alias ("noble") or
	// a remote-qualified alias ("release:noble"). Which remotes are usable
	// depends on the active driver's capability matrix.
	Image string `json:"image" yaml:"image"`

	// Networks lists extra network interfaces beyond the management one.
	// Each names a host bridge or ethernet device discovered by the
	// interface scan.
	// +optional
	Networks []NetworkSpec `json:"networks,omitempty" yaml:"networks,omitempty"`

	// SSH carries the credentials baked into the guest for the readiness
	// probe and user sessions.
	SSH SSHSpec `json:"ssh" yaml:"ssh"`

	// CloudInit holds optional extra provisioning data.
	// +optional
	CloudInit *CloudInitSpec `json:"cloudInit,omitempty" yaml:"cloudInit,omitempty"`
}

// NetworkSpec defines one extra network interface of an instance.
type NetworkSpec struct {
	// ID is the host interface (bridge or ethernet device) to attach to,
	// as reported by the network interface scan.
	ID string `json:"id" yaml:"id"`

	// Mode is the attachment mode. Only "bridged" is supported today.
	// +optional
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// MACAddress pins the interface's MAC address. Generated when empty.
	// +optional
	MACAddress string `json:"macAddress,omitempty" yaml:"macAddress,omitempty"`
}

// SSHSpec is the key material and account used to reach the guest.
type SSHSpec struct {
	// Username is the account provisioned in the guest.
	Username string `json:"username" yaml:"username"`

	// AuthorizedKey is the SSH public key (authorized_keys format) injected
	// via cloud-init and used by the readiness probe.
	AuthorizedKey string `json:"authorizedKey" yaml:"authorizedKey"`

	// PrivateKeyPath optionally points at the matching private key on the
	// host, for probes that authenticate rather than just handshake.
	// +optional
	PrivateKeyPath string `json:"privateKeyPath,omitempty" yaml:"privateKeyPath,omitempty"`
}

// CloudInitSpec defines extra cloud-init configuration.
type CloudInitSpec struct {
	// FQDN is the fully qualified domain name for the instance.
	// The hostname is derived from this; defaults to the instance name.
	// +optional
	FQDN string `json:"fqdn,omitempty" yaml:"fqdn,omitempty"`

	// UserData is verbatim #cloud-config content merged after the
	// generated document.
	// +optional
	UserData string `json:"userData,omitempty" yaml:"userData,omitempty"`
}

// VirtualMachineStatus defines the observed state of an instance.
type VirtualMachineStatus struct {
	// Phase is the coarse lifecycle phase, projected from State.
	// +optional
	Phase VMPhase `json:"phase,omitempty" yaml:"phase,omitempty"`

	// State is the backend-reported lifecycle state (off, starting,
	// running, restarting, suspending, suspended, delayed_shutdown,
	// unknown).
	// +optional
	State string `json:"state,omitempty" yaml:"state,omitempty"`

	// Conditions represent the latest available observations of the
	// instance's state.
	// +optional
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`

	// Addresses are the network addresses assigned to the instance.
	// +optional
	Addresses []VMAddress `json:"addresses,omitempty" yaml:"addresses,omitempty"`

	// MACAddress is the management interface's MAC address.
	// +optional
	MACAddress string `json:"macAddress,omitempty" yaml:"macAddress,omitempty"`

	// SSHHostname is the endpoint the readiness probe connects to.
	// +optional
	SSHHostname string `json:"sshHostname,omitempty" yaml:"sshHostname,omitempty"`

	// SSHPort is the endpoint port for SSH sessions.
	// +optional
	SSHPort int `json:"sshPort,omitempty" yaml:"sshPort,omitempty"`

	// Driver records which backend created the instance, so a restarted
	// daemon refuses to adopt instances from a different driver.
	// +optional
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`
}

// VMPhase is the coarse lifecycle phase of an instance.
type VMPhase string

const (
	// VMPhasePending means the instance has been accepted but not created.
	VMPhasePending VMPhase = "Pending"

	// VMPhaseStarting means the instance is booting.
	VMPhaseStarting VMPhase = "Starting"

	// VMPhaseRunning means the instance is running.
	VMPhaseRunning VMPhase = "Running"

	// VMPhaseStopping means the instance is shutting down or suspending.
	VMPhaseStopping VMPhase = "Stopping"

	// VMPhaseStopped means the instance is off or suspended.
	VMPhaseStopped VMPhase = "Stopped"

	// VMPhaseUnknown means the backend could not report a state.
	VMPhaseUnknown VMPhase = "Unknown"
)

// VMAddress represents a network address assigned to the instance.
type VMAddress struct {
	// Type is the address type: "ipv4" or "ipv6".
	Type string `json:"type" yaml:"type"`

	// Address is the address value.
	Address string `json:"address" yaml:"address"`
}

// AddressTypeIPv4 and AddressTypeIPv6 are the VMAddress types.
const (
	AddressTypeIPv4 = "ipv4"
	AddressTypeIPv6 = "ipv6"
)
