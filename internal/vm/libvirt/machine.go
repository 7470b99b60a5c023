package libvirt

import (
	"context"
	"fmt"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/vm"
)

// sshPort is where the guest's sshd listens; libvirt instances are reached
// directly on their management address.
const sshPort = 22

// statePollInterval paces shutdown and address polling.
const statePollInterval = time.Second

// Machine is one libvirt-backed instance. The domain reference is a plain
// value scoped to the factory's connection; the connection itself belongs
// to the factory, so Close has nothing of its own to release.
type Machine struct {
	vm.Base

	api   client
	dom   golibvirt.Domain
	desc  *v1alpha1.VirtualMachine
	probe vm.Prober
	grace time.Duration
}

var _ vm.VirtualMachine = (*Machine)(nil)

// Start implements vm.VirtualMachine. DomainCreate boots a defined domain
// and transparently resumes from a managed save image when one exists, so
// off and suspended share one path.
func (m *Machine) Start(ctx context.Context) error {
	if !m.CurrentState().CanStart() {
		return m.TransitionError("start")
	}

	m.SetState(vm.StateStarting)
	if err := m.api.DomainCreate(m.dom); err != nil {
		m.SetState(vm.StateOff)
		return m.NativeError("start", err)
	}

	m.SetState(vm.StateRunning)
	return nil
}

// Stop implements vm.VirtualMachine. Without force the guest gets an ACPI
// shutdown request and the grace window to act on it; then the domain is
// destroyed.
func (m *Machine) Stop(ctx context.Context, force bool) error {
	state := m.CurrentState()
	if state == vm.StateOff {
		return nil
	}
	if !state.CanStop() && !force {
		return m.TransitionError("stop")
	}

	if force {
		if err := m.api.DomainDestroy(m.dom); err != nil {
			return m.NativeError("stop", err)
		}
		m.SetState(vm.StateOff)
		return nil
	}

	if err := m.api.DomainShutdown(m.dom); err != nil {
		return m.NativeError("stop", err)
	}

	if err := m.awaitShutoff(ctx); err != nil {
		// Guest did not power off in time; escalate.
		if err := m.api.DomainDestroy(m.dom); err != nil {
			return m.NativeError("stop", err)
		}
	}

	m.SetState(vm.StateOff)
	return nil
}

// awaitShutoff polls until the domain reports shutoff or the grace window
// elapses.
func (m *Machine) awaitShutoff(ctx context.Context) error {
	deadline := time.Now().Add(m.grace)
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		state, _, err := m.api.DomainGetState(m.dom, 0)
		if err == nil && state == domainStateShutoff {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("instance %q did not shut down within %s", m.Name(), m.grace)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown implements vm.VirtualMachine; for libvirt it is Stop.
func (m *Machine) Shutdown(ctx context.Context, force bool) error {
	return m.Stop(ctx, force)
}

// Suspend implements vm.VirtualMachine via libvirt managed save.
func (m *Machine) Suspend(ctx context.Context) error {
	if !m.CurrentState().CanSuspend() {
		return m.TransitionError("suspend")
	}

	m.SetState(vm.StateSuspending)
	if err := m.api.DomainManagedSave(m.dom, 0); err != nil {
		m.SetState(vm.StateRunning)
		return m.NativeError("suspend", err)
	}

	m.SetState(vm.StateSuspended)
	return nil
}

// UpdateState implements vm.VirtualMachine by re-polling libvirt. Covers
// domains manipulated behind the daemon's back (virsh, host reboot).
func (m *Machine) UpdateState(ctx context.Context) (vm.State, error) {
	state, _, err := m.api.DomainGetState(m.dom, 0)
	if err != nil {
		m.SetState(vm.StateUnknown)
		return vm.StateUnknown, m.NativeError("update state", err)
	}

	var mapped vm.State
	switch state {
	case domainStateRunning, domainStateBlocked:
		mapped = vm.StateRunning
	case domainStateShutdown:
		mapped = vm.StateDelayedShutdown
	case domainStatePaused, domainStatePmsuspended:
		mapped = vm.StateSuspended
	case domainStateShutoff, domainStateCrashed:
		mapped = vm.StateOff
		if saved, err := m.api.DomainHasManagedSaveImage(m.dom, 0); err == nil && saved != 0 {
			mapped = vm.StateSuspended
		}
	default:
		mapped = vm.StateUnknown
	}

	m.SetState(mapped)
	return mapped, nil
}

// SSHHostname implements vm.VirtualMachine: the management IPv4 address,
// waited for until the guest's DHCP lease shows up.
func (m *Machine) SSHHostname(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		if addr := m.ManagementIPv4(ctx); addr != "" {
			return addr, nil
		}
		if time.Now().After(deadline) {
			return "", &vm.ReadinessTimeoutError{Instance: m.Name(), Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// SSHPort implements vm.VirtualMachine.
func (m *Machine) SSHPort() int {
	return sshPort
}

// SSHUsername implements vm.VirtualMachine.
func (m *Machine) SSHUsername() string {
	return m.desc.GetUsername()
}

// addressOfType scans the domain's DHCP leases for an address of the given
// type (0 for IPv4, 1 for IPv6).
func (m *Machine) addressOfType(want int32) string {
	ifaces, err := m.api.DomainInterfaceAddresses(m.dom, uint32(golibvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type == want && addr.Addr != "" {
				return addr.Addr
			}
		}
	}
	return ""
}

// ManagementIPv4 implements vm.VirtualMachine.
func (m *Machine) ManagementIPv4(ctx context.Context) string {
	return m.addressOfType(0)
}

// IPv6 implements vm.VirtualMachine.
func (m *Machine) IPv6(ctx context.Context) string {
	return m.addressOfType(1)
}

// WaitUntilSSHUp implements vm.VirtualMachine.
func (m *Machine) WaitUntilSSHUp(ctx context.Context, timeout time.Duration) error {
	if err := m.EnsureRunning(); err != nil {
		return err
	}

	hostname, err := m.SSHHostname(ctx, timeout)
	if err != nil {
		return err
	}
	return vm.AwaitSSH(ctx, m.probe, m.Name(), hostname, sshPort, timeout)
}

// Close implements vm.VirtualMachine. The machine borrows the factory's
// connection and the domain reference carries no native resource, so there
// is nothing to release.
func (m *Machine) Close() error {
	return nil
}
