// Package daemon owns the instance table. It drives every hypervisor
// backend uniformly through the vm.Factory and vm.VirtualMachine contracts:
// launch requests are validated against the active driver's capabilities,
// instance records are persisted across restarts, and existing instances
// are re-adopted from their records when the table is rebuilt.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/log"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/metadata"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/platform"
	"github.com/jbweber/crucible/internal/settings"
	"github.com/jbweber/crucible/internal/status"
	"github.com/jbweber/crucible/internal/vm"
)

// defaultReadyTimeout bounds the SSH readiness wait after a launch boots.
const defaultReadyTimeout = 5 * time.Minute

// endpointResolveTimeout bounds the address lookup when recording the SSH
// endpoint of an instance that already answered the readiness probe.
const endpointResolveTimeout = 10 * time.Second

// Daemon is the instance table over one backend factory. All lifecycle
// operations go through it so that records, status and native handles stay
// consistent.
type Daemon struct {
	factory  vm.Factory
	records  *metadata.Store
	recorder *status.Recorder

	readyTimeout time.Duration

	mu        sync.Mutex
	instances map[string]vm.VirtualMachine
	order     []string
}

// New builds a daemon over an already-constructed factory and record store.
// The instance table starts empty; call Recover to adopt existing records.
func New(factory vm.Factory, records *metadata.Store) *Daemon {
	return &Daemon{
		factory:      factory,
		records:      records,
		recorder:     status.NewRecorder(records),
		readyTimeout: defaultReadyTimeout,
		instances:    make(map[string]vm.VirtualMachine),
	}
}

// Open resolves the configured driver, builds its backend and adopts all
// persisted instance records. This is the entry point for a daemon run.
func Open(ctx context.Context, cfg *settings.Settings) (*Daemon, error) {
	driver, err := platform.Resolve(cfg.Driver)
	if err != nil {
		return nil, err
	}

	factory, err := platform.NewBackend(ctx, driver, cfg.StoragePath)
	if err != nil {
		return nil, err
	}
	if grace := cfg.GraceWindow(); grace > 0 {
		type graceful interface{ SetShutdownGrace(time.Duration) }
		if g, ok := factory.(graceful); ok {
			g.SetShutdownGrace(grace)
		}
	}

	d := New(factory, metadata.NewStore(cfg.StoragePath))
	if err := d.Recover(ctx); err != nil {
		_ = factory.Close()
		return nil, err
	}
	return d, nil
}

// SetReadyTimeout overrides how long Launch waits for the guest's SSH
// endpoint to answer.
func (d *Daemon) SetReadyTimeout(timeout time.Duration) {
	if timeout > 0 {
		d.readyTimeout = timeout
	}
}

// Driver returns the active backend driver name.
func (d *Daemon) Driver() string {
	return d.factory.Driver()
}

// Recover rebuilds the instance table from persisted records. Records
// written by a different driver are not adopted: switching drivers does not
// transfer instances, and silently recreating them on the new backend would
// orphan the originals.
func (d *Daemon) Recover(ctx context.Context) error {
	descs, err := d.records.List()
	if err != nil {
		return fmt.Errorf("failed to list instance records: %w", err)
	}

	for _, desc := range descs {
		logger := log.G(ctx).WithField("instance", desc.Name)

		if desc.Status.Driver != "" && desc.Status.Driver != d.factory.Driver() {
			logger.WithField("recordDriver", desc.Status.Driver).
				WithField("activeDriver", d.factory.Driver()).
				Error("instance belongs to another driver; not adopted")
			continue
		}

		machine, err := d.factory.Recover(ctx, desc, d.recorder)
		if err != nil {
			logger.WithError(err).Error("instance not adopted")
			continue
		}

		d.adopt(desc.Name, machine)
		logger.WithField("state", machine.CurrentState()).Debug("instance adopted")
	}
	return nil
}

func (d *Daemon) adopt(name string, machine vm.VirtualMachine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instances[name] = machine
	d.order = append(d.order, name)
}

// instance looks up an adopted instance by name.
func (d *Daemon) instance(name string) (vm.VirtualMachine, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	machine, ok := d.instances[name]
	if !ok {
		return nil, fmt.Errorf("instance %q does not exist", name)
	}
	return machine, nil
}

// Launch creates, boots and waits for a new instance. The description's
// image remote must be supported by the active driver and its extra networks
// must resolve against the host interface scan. The record is persisted
// before backend creation so every state transition lands on disk.
//
// A boot that succeeds but never answers the readiness probe leaves the
// instance running and returns the probe's ReadinessTimeoutError.
func (d *Daemon) Launch(ctx context.Context, desc *v1alpha1.VirtualMachine) (vm.VirtualMachine, error) {
	driver := platform.Driver(d.factory.Driver())
	if remote := desc.ImageRemote(); remote != "" && !platform.IsRemoteSupported(driver, remote) {
		return nil, fmt.Errorf("image remote %q is not supported by the %s driver", remote, driver)
	}

	if len(desc.Spec.Networks) > 0 {
		infos, err := d.factory.HostNetworks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan host networks: %w", err)
		}
		if err := vm.ResolveNetworks(desc, infos); err != nil {
			return nil, err
		}
	}

	if d.records.Exists(desc.Name) {
		return nil, fmt.Errorf("instance %q already exists", desc.Name)
	}

	desc.Status.Driver = d.factory.Driver()
	if err := d.records.Save(desc); err != nil {
		return nil, err
	}

	machine, err := d.factory.Create(ctx, desc, d.recorder)
	if err != nil {
		_ = d.records.Delete(desc.Name)
		return nil, err
	}

	status.MarkProvisioned(desc)
	if err := d.records.Save(desc); err != nil {
		log.G(ctx).WithError(err).WithField("instance", desc.Name).Warn("provisioned condition not recorded")
	}
	d.adopt(desc.Name, machine)

	if err := machine.Start(ctx); err != nil {
		return nil, err
	}

	if err := machine.WaitUntilSSHUp(ctx, d.readyTimeout); err != nil {
		return machine, err
	}
	d.recordEndpoint(ctx, machine)
	return machine, nil
}

// recordEndpoint writes the now-known SSH endpoint and addresses into the
// instance record. The guest already answered the probe, so resolution is
// quick; failures only cost the record these convenience fields.
func (d *Daemon) recordEndpoint(ctx context.Context, machine vm.VirtualMachine) {
	desc, err := d.records.Load(machine.Name())
	if err != nil {
		return
	}

	if hostname, err := machine.SSHHostname(ctx, endpointResolveTimeout); err == nil {
		desc.Status.SSHHostname = hostname
	}
	desc.Status.SSHPort = machine.SSHPort()
	if addr := machine.ManagementIPv4(ctx); addr != "" {
		desc.SetAddress(v1alpha1.AddressTypeIPv4, addr)
	}
	if addr := machine.IPv6(ctx); addr != "" {
		desc.SetAddress(v1alpha1.AddressTypeIPv6, addr)
	}
	status.MarkReady(desc)

	if err := d.records.Save(desc); err != nil {
		log.G(ctx).WithError(err).WithField("instance", desc.Name).Warn("ssh endpoint not recorded")
	}
}

// Start boots an existing instance.
func (d *Daemon) Start(ctx context.Context, name string) error {
	machine, err := d.instance(name)
	if err != nil {
		return err
	}
	return machine.Start(ctx)
}

// Stop takes an instance to off, gracefully unless force is set.
func (d *Daemon) Stop(ctx context.Context, name string, force bool) error {
	machine, err := d.instance(name)
	if err != nil {
		return err
	}
	return machine.Stop(ctx, force)
}

// Suspend saves an instance's state to disk, where the driver supports it.
func (d *Daemon) Suspend(ctx context.Context, name string) error {
	machine, err := d.instance(name)
	if err != nil {
		return err
	}
	return machine.Suspend(ctx)
}

// Delete removes an instance and its record. A running instance is refused
// unless force is set, in which case it is forcibly stopped first.
func (d *Daemon) Delete(ctx context.Context, name string, force bool) error {
	machine, err := d.instance(name)
	if err != nil {
		return err
	}

	state, err := machine.UpdateState(ctx)
	if err != nil {
		log.G(ctx).WithError(err).WithField("instance", name).Warn("state not reconciled before delete")
	}
	if state != vm.StateOff && state != vm.StateSuspended {
		if !force {
			return &vm.LifecycleError{Instance: name, Op: "delete", State: state}
		}
		if err := machine.Stop(ctx, true); err != nil {
			return err
		}
	}

	if err := machine.Close(); err != nil {
		return err
	}
	if err := d.factory.Remove(ctx, name); err != nil {
		return err
	}
	if err := d.records.Delete(name); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.instances, name)
	for i, n := range d.order {
		if n == name {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the record of one instance, with its state freshly reconciled
// from the backend.
func (d *Daemon) Get(ctx context.Context, name string) (*v1alpha1.VirtualMachine, error) {
	machine, err := d.instance(name)
	if err != nil {
		return nil, err
	}

	if _, err := machine.UpdateState(ctx); err != nil {
		log.G(ctx).WithError(err).WithField("instance", name).Warn("state not reconciled")
	}
	return d.records.Load(name)
}

// List returns all instance records, each with its state reconciled from the
// backend where the instance was adopted.
func (d *Daemon) List(ctx context.Context) ([]*v1alpha1.VirtualMachine, error) {
	descs, err := d.records.List()
	if err != nil {
		return nil, err
	}

	for _, desc := range descs {
		machine, err := d.instance(desc.Name)
		if err != nil {
			continue
		}
		if _, err := machine.UpdateState(ctx); err != nil {
			log.G(ctx).WithError(err).WithField("instance", desc.Name).Warn("state not reconciled")
			continue
		}
		status.Apply(desc, machine.CurrentState())
	}
	return descs, nil
}

// HostNetworks lists the host interfaces the backend can bridge onto.
func (d *Daemon) HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
	return d.factory.HostNetworks(ctx)
}

// Close releases every instance's native handles in reverse adoption order,
// then the factory's backend connection. Instances keep running; only this
// process's ownership ends.
func (d *Daemon) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for i := len(d.order) - 1; i >= 0; i-- {
		machine, ok := d.instances[d.order[i]]
		if !ok {
			continue
		}
		if err := machine.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.instances = make(map[string]vm.VirtualMachine)
	d.order = nil

	if err := d.factory.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
