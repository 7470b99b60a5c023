package lxd

import (
	"context"
	"fmt"
	"time"

	lxdclient "github.com/canonical/lxd/client"
	"github.com/canonical/lxd/shared/api"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/handle"
	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/sshprobe"
	"github.com/jbweber/crucible/internal/vm"
)

// defaultShutdownGrace is how long a graceful stop may take before LXD
// escalates to a hard stop.
const defaultShutdownGrace = 2 * time.Minute

// Factory creates LXD-backed instances. It owns the daemon connection for
// the run; machines borrow it and never release it.
type Factory struct {
	conn  *handle.Handle[lxdclient.InstanceServer]
	api   client
	grace time.Duration
}

// NewFactory connects to the local LXD daemon and ensures the crucible
// management network exists. LXD owns instance storage, so backendPath is
// not used by this backend.
func NewFactory(ctx context.Context, backendPath string) (*Factory, error) {
	srv, err := connect("")
	if err != nil {
		return nil, err
	}

	f := &Factory{
		conn: handle.New(srv, func(s lxdclient.InstanceServer) error {
			s.Disconnect()
			return nil
		}),
		api:   &serverClient{srv: srv},
		grace: defaultShutdownGrace,
	}

	if err := f.ensureNetwork(); err != nil {
		_ = f.conn.Close()
		return nil, err
	}
	return f, nil
}

// SetShutdownGrace overrides the graceful shutdown window.
func (f *Factory) SetShutdownGrace(d time.Duration) {
	if d > 0 {
		f.grace = d
	}
}

// Driver implements vm.Factory.
func (f *Factory) Driver() string {
	return "lxd"
}

// ensureNetwork creates the crucible managed bridge when absent.
func (f *Factory) ensureNetwork() error {
	if _, _, err := f.api.GetNetwork(NetworkName); err == nil {
		return nil
	}

	req := api.NetworksPost{
		Name: NetworkName,
		Type: "bridge",
		NetworkPut: api.NetworkPut{
			Config: map[string]string{
				"ipv4.address": "auto",
				"ipv4.nat":     "true",
				"ipv6.address": "none",
			},
		},
	}
	if err := f.api.CreateNetwork(req); err != nil {
		return fmt.Errorf("failed to create network %s: %w", NetworkName, err)
	}
	return nil
}

// ManagementBridge resolves the host bridge behind the crucible network.
// Re-read on every call: the bridge belongs to LXD and is observed rather
// than cached.
func (f *Factory) ManagementBridge() (string, error) {
	network, _, err := f.api.GetNetwork(NetworkName)
	if err != nil {
		return "", fmt.Errorf("network %s not found: %w", NetworkName, err)
	}
	// For managed bridges the network name is the host bridge device.
	return network.Name, nil
}

// Create implements vm.Factory. LXD materializes the root disk from its
// image store and the cloud-init seed from config keys, so there are no
// host-side artifacts to manage.
func (f *Factory) Create(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if err := naming.ValidateInstanceName(desc.Name); err != nil {
		return nil, err
	}
	if _, _, err := f.api.GetInstance(desc.Name); err == nil {
		return nil, fmt.Errorf("instance %q already exists", desc.Name)
	}

	req, err := buildInstanceRequest(desc)
	if err != nil {
		return nil, err
	}
	if err := f.api.CreateInstance(req); err != nil {
		return nil, fmt.Errorf("failed to create instance %s: %w", desc.Name, err)
	}

	return f.newMachine(desc, vm.StateOff, monitor)
}

// Recover implements vm.Factory: it re-adopts an instance that already
// exists in LXD, taking the initial state from what the daemon reports
// right now.
func (f *Factory) Recover(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if _, _, err := f.api.GetInstance(desc.Name); err != nil {
		return nil, fmt.Errorf("instance %q not known to LXD: %w", desc.Name, err)
	}

	initial := vm.StateUnknown
	if state, _, err := f.api.GetInstanceState(desc.Name); err == nil {
		initial = mapStatusCode(state.StatusCode)
	}
	return f.newMachine(desc, initial, monitor)
}

func (f *Factory) newMachine(desc *v1alpha1.VirtualMachine, initial vm.State, monitor vm.StatusMonitor) (*Machine, error) {
	probe, err := sshprobe.New(desc.GetUsername(), desc.Spec.SSH.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	return &Machine{
		Base:  vm.NewBase(desc.Name, initial, monitor),
		api:   f.api,
		desc:  desc,
		probe: probe,
		grace: f.grace,
	}, nil
}

// Remove implements vm.Factory. The instance must be off; LXD deletes the
// root disk with the instance.
func (f *Factory) Remove(ctx context.Context, name string) error {
	state, _, err := f.api.GetInstanceState(name)
	if err == nil && mapStatusCode(state.StatusCode) == vm.StateRunning {
		return &vm.LifecycleError{Instance: name, Op: "remove", State: vm.StateRunning}
	}

	if err := f.api.DeleteInstance(name); err != nil {
		return fmt.Errorf("failed to delete instance %s: %w", name, err)
	}
	return nil
}

// HostNetworks implements vm.Factory via the sysfs interface scan.
func (f *Factory) HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
	return netscan.Scan(netscan.DefaultRoot), nil
}

// Close releases the factory's LXD connection.
func (f *Factory) Close() error {
	return f.conn.Close()
}
