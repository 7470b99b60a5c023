package lxd

import (
	"context"
	"time"

	"github.com/canonical/lxd/shared/api"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/vm"
)

// sshPort is where the guest's sshd listens; LXD instances are reached
// directly on their management address.
const sshPort = 22

// statePollInterval paces address polling.
const statePollInterval = time.Second

// Machine is one LXD-backed instance. All native resources live in the LXD
// daemon and are addressed by name over the factory's connection, so the
// machine itself holds nothing to release.
type Machine struct {
	vm.Base

	api   client
	desc  *v1alpha1.VirtualMachine
	probe vm.Prober
	grace time.Duration
}

var _ vm.VirtualMachine = (*Machine)(nil)

// Start implements vm.VirtualMachine.
func (m *Machine) Start(ctx context.Context) error {
	if !m.CurrentState().CanStart() {
		return m.TransitionError("start")
	}

	m.SetState(vm.StateStarting)
	req := api.InstanceStatePut{
		Action:  "start",
		Timeout: -1,
	}
	if err := m.api.UpdateInstanceState(m.Name(), req, ""); err != nil {
		m.SetState(vm.StateOff)
		return m.NativeError("start", err)
	}

	m.SetState(vm.StateRunning)
	return nil
}

// Stop implements vm.VirtualMachine. The grace window is handed to LXD as
// the action timeout; escalation to a hard stop is the daemon's to enforce.
func (m *Machine) Stop(ctx context.Context, force bool) error {
	state := m.CurrentState()
	if state == vm.StateOff {
		return nil
	}
	if !state.CanStop() && !force {
		return m.TransitionError("stop")
	}

	req := api.InstanceStatePut{
		Action:  "stop",
		Timeout: int(m.grace.Seconds()),
		Force:   force,
	}
	if err := m.api.UpdateInstanceState(m.Name(), req, ""); err != nil {
		return m.NativeError("stop", err)
	}

	m.SetState(vm.StateOff)
	return nil
}

// Shutdown implements vm.VirtualMachine; for LXD it is Stop.
func (m *Machine) Shutdown(ctx context.Context, force bool) error {
	return m.Stop(ctx, force)
}

// Suspend implements vm.VirtualMachine. LXD virtual machines have no
// state-save; the instance's state is left untouched.
func (m *Machine) Suspend(ctx context.Context) error {
	return vm.ErrSuspendUnsupported
}

// UpdateState implements vm.VirtualMachine by re-polling the LXD daemon.
func (m *Machine) UpdateState(ctx context.Context) (vm.State, error) {
	state, _, err := m.api.GetInstanceState(m.Name())
	if err != nil {
		m.SetState(vm.StateUnknown)
		return vm.StateUnknown, m.NativeError("update state", err)
	}

	mapped := mapStatusCode(state.StatusCode)
	m.SetState(mapped)
	return mapped, nil
}

// mapStatusCode maps LXD's instance status onto the contract's state set.
func mapStatusCode(code api.StatusCode) vm.State {
	switch code {
	case api.Running, api.Started:
		return vm.StateRunning
	case api.Starting:
		return vm.StateStarting
	case api.Stopping:
		return vm.StateDelayedShutdown
	case api.Freezing, api.Frozen:
		return vm.StateSuspended
	case api.Stopped:
		return vm.StateOff
	default:
		return vm.StateUnknown
	}
}

// SSHHostname implements vm.VirtualMachine: the management IPv4 address,
// waited for until the guest agent reports it.
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

// addressOfFamily scans the instance's network state for a global address of
// the given family ("inet" or "inet6").
func (m *Machine) addressOfFamily(family string) string {
	state, _, err := m.api.GetInstanceState(m.Name())
	if err != nil {
		return ""
	}

	for _, iface := range state.Network {
		for _, addr := range iface.Addresses {
			if addr.Family == family && addr.Scope == "global" && addr.Address != "" {
				return addr.Address
			}
		}
	}
	return ""
}

// ManagementIPv4 implements vm.VirtualMachine.
func (m *Machine) ManagementIPv4(ctx context.Context) string {
	return m.addressOfFamily("inet")
}

// IPv6 implements vm.VirtualMachine.
func (m *Machine) IPv6(ctx context.Context) string {
	return m.addressOfFamily("inet6")
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
// connection and addresses its instance by name, so there is nothing to
// release.
func (m *Machine) Close() error {
	return nil
}
