package libvirt

import (
	"context"
	"fmt"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
	"libvirt.org/go/libvirtxml"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/cloudinit"
	"github.com/jbweber/crucible/internal/disk"
	"github.com/jbweber/crucible/internal/handle"
	"github.com/jbweber/crucible/internal/images"
	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/sshprobe"
	"github.com/jbweber/crucible/internal/vm"
)

// libvirt domain states as reported by DomainGetState.
const (
	domainStateNostate     = 0
	domainStateRunning     = 1
	domainStateBlocked     = 2
	domainStatePaused      = 3
	domainStateShutdown    = 4
	domainStateShutoff     = 5
	domainStateCrashed     = 6
	domainStatePmsuspended = 7
)

// defaultShutdownGrace is how long a graceful shutdown may take before the
// backend escalates to a destroy.
const defaultShutdownGrace = 2 * time.Minute

// Factory creates libvirt-backed instances. It owns the daemon connection
// for the run; machines borrow it and never release it.
type Factory struct {
	conn    *handle.Handle[*golibvirt.Libvirt]
	api     client
	storage *disk.Manager
	images  *images.Store
	grace   time.Duration
}

// NewFactory connects to the local libvirt daemon and ensures the crucible
// management network exists. backendPath roots the instance artifacts.
func NewFactory(ctx context.Context, backendPath string) (*Factory, error) {
	l, err := connect("")
	if err != nil {
		return nil, err
	}

	f := &Factory{
		conn:    handle.New(l, func(c *golibvirt.Libvirt) error { return c.Disconnect() }),
		api:     l,
		storage: disk.NewManager(backendPath),
		images:  images.NewStore(backendPath),
		grace:   defaultShutdownGrace,
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
	return "libvirt"
}

// ensureNetwork creates the crucible NAT network when absent.
func (f *Factory) ensureNetwork() error {
	if _, err := f.api.NetworkLookupByName(NetworkName); err == nil {
		return nil
	}

	xml, err := generateNetworkXML()
	if err != nil {
		return err
	}
	if _, err := f.api.NetworkCreateXML(xml); err != nil {
		return fmt.Errorf("failed to create network %s: %w", NetworkName, err)
	}
	return nil
}

// ManagementBridge resolves the host bridge behind the crucible network.
// The name is re-read on every call: the bridge belongs to libvirt and may
// change if the network is rebuilt, so it is observed rather than cached.
func (f *Factory) ManagementBridge() (string, error) {
	network, err := f.api.NetworkLookupByName(NetworkName)
	if err != nil {
		return "", fmt.Errorf("network %s not found: %w", NetworkName, err)
	}

	xml, err := f.api.NetworkGetXMLDesc(network, 0)
	if err != nil {
		return "", fmt.Errorf("failed to read network %s: %w", NetworkName, err)
	}

	var desc libvirtxml.Network
	if err := desc.Unmarshal(xml); err != nil {
		return "", fmt.Errorf("failed to parse network XML: %w", err)
	}
	if desc.Bridge == nil || desc.Bridge.Name == "" {
		return "", fmt.Errorf("network %s has no bridge", NetworkName)
	}
	return desc.Bridge.Name, nil
}

// Create implements vm.Factory. Artifacts acquired along the way are torn
// down in reverse order when a later step fails, so a failed create leaves
// nothing behind.
func (f *Factory) Create(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if err := naming.ValidateInstanceName(desc.Name); err != nil {
		return nil, err
	}
	if _, err := f.api.DomainLookupByName(desc.Name); err == nil {
		return nil, fmt.Errorf("instance %q already exists", desc.Name)
	}

	backing, err := f.images.Resolve(desc.Spec.Image)
	if err != nil {
		return nil, err
	}
	if err := f.storage.CheckDiskSpace(desc.Spec.DiskGB); err != nil {
		return nil, err
	}

	if err := f.storage.EnsureInstanceDirectory(desc.Name); err != nil {
		return nil, err
	}
	cleanupDir := true
	defer func() {
		if cleanupDir {
			_ = f.storage.RemoveInstance(desc.Name)
		}
	}()

	if err := f.storage.CreateBootDisk(desc.Name, backing, desc.Spec.DiskGB); err != nil {
		return nil, err
	}

	seed, err := cloudinit.GenerateISO(desc)
	if err != nil {
		return nil, err
	}
	if err := f.storage.WriteSeedImage(desc.Name, seed); err != nil {
		return nil, err
	}

	xml, err := generateDomainXML(desc, f.storage.BootDiskPath(desc.Name), f.storage.SeedPath(desc.Name))
	if err != nil {
		return nil, err
	}
	dom, err := f.api.DomainDefineXML(xml)
	if err != nil {
		return nil, fmt.Errorf("failed to define domain %s: %w", desc.Name, err)
	}

	cleanupDir = false
	return f.newMachine(desc, dom, vm.StateOff, monitor)
}

// Recover implements vm.Factory: it re-adopts a domain that already exists,
// taking the initial state from what libvirt reports right now.
func (f *Factory) Recover(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	dom, err := f.api.DomainLookupByName(desc.Name)
	if err != nil {
		return nil, fmt.Errorf("instance %q has no domain: %w", desc.Name, err)
	}

	state, err := f.domainState(dom)
	if err != nil {
		state = vm.StateUnknown
	}
	return f.newMachine(desc, dom, state, monitor)
}

func (f *Factory) newMachine(desc *v1alpha1.VirtualMachine, dom golibvirt.Domain, initial vm.State, monitor vm.StatusMonitor) (*Machine, error) {
	probe, err := sshprobe.New(desc.GetUsername(), desc.Spec.SSH.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	return &Machine{
		Base:  vm.NewBase(desc.Name, initial, monitor),
		api:   f.api,
		dom:   dom,
		desc:  desc,
		probe: probe,
		grace: f.grace,
	}, nil
}

// domainState maps libvirt's reported state onto the contract's state set.
// A shutoff domain with a managed save image counts as suspended.
func (f *Factory) domainState(dom golibvirt.Domain) (vm.State, error) {
	state, _, err := f.api.DomainGetState(dom, 0)
	if err != nil {
		return vm.StateUnknown, fmt.Errorf("failed to get domain state: %w", err)
	}

	switch state {
	case domainStateRunning, domainStateBlocked:
		return vm.StateRunning, nil
	case domainStateShutdown:
		return vm.StateDelayedShutdown, nil
	case domainStatePaused, domainStatePmsuspended:
		return vm.StateSuspended, nil
	case domainStateShutoff, domainStateCrashed:
		if saved, err := f.api.DomainHasManagedSaveImage(dom, 0); err == nil && saved != 0 {
			return vm.StateSuspended, nil
		}
		return vm.StateOff, nil
	default:
		return vm.StateUnknown, nil
	}
}

// Remove implements vm.Factory. The domain must be off; its definition,
// managed save image, NVRAM and on-disk artifacts are all removed.
func (f *Factory) Remove(ctx context.Context, name string) error {
	dom, err := f.api.DomainLookupByName(name)
	if err == nil {
		state, _, serr := f.api.DomainGetState(dom, 0)
		if serr == nil && state == domainStateRunning {
			return &vm.LifecycleError{Instance: name, Op: "remove", State: vm.StateRunning}
		}
		flags := golibvirt.DomainUndefineManagedSave | golibvirt.DomainUndefineNvram
		if err := f.api.DomainUndefineFlags(dom, flags); err != nil {
			return fmt.Errorf("failed to undefine domain %s: %w", name, err)
		}
	}

	return f.storage.RemoveInstance(name)
}

// HostNetworks implements vm.Factory via the sysfs interface scan.
func (f *Factory) HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
	return netscan.Scan(netscan.DefaultRoot), nil
}

// Close releases the factory's libvirt connection.
func (f *Factory) Close() error {
	return f.conn.Close()
}
