package vm

import (
	"context"
	"time"

	"github.com/jbweber/crucible/internal/netscan"

	"github.com/jbweber/crucible/api/v1alpha1"
)

// VirtualMachine is the uniform lifecycle contract over one instance,
// regardless of which hypervisor backend created it. The daemon only ever
// holds this interface; concrete types stay inside their backend packages.
//
// All blocking operations take a context; cancellation beyond the
// caller-supplied timeouts is not part of the contract. Operations on
// distinct instances are independent; a backend whose native API cannot
// interleave calls on the shared connection serializes internally.
type VirtualMachine interface {
	// Name returns the unique instance name.
	Name() string

	// Start boots the instance. Valid from off or suspended; the instance
	// moves through starting and reaches running on backend
	// acknowledgment. On native failure the state reverts to off and a
	// LifecycleError is returned.
	Start(ctx context.Context) error

	// Stop takes the instance to off. Without force a graceful guest
	// shutdown is requested first; the grace window and escalation to a
	// forced destroy are backend policy.
	Stop(ctx context.Context, force bool) error

	// Shutdown is Stop initiated by the guest-facing path. Backends where
	// the distinction is meaningless implement it as Stop.
	Shutdown(ctx context.Context, force bool) error

	// Suspend saves instance state to disk, if the backend supports
	// state-save. Unsupported backends return ErrSuspendUnsupported and
	// leave the state unchanged.
	Suspend(ctx context.Context) error

	// CurrentState returns the last locally observed state without
	// touching the backend.
	CurrentState() State

	// UpdateState re-polls the backend and reconciles the local state.
	UpdateState(ctx context.Context) (State, error)

	// EnsureRunning fails fast unless the state is running or starting.
	EnsureRunning() error

	// SSHHostname resolves the hostname or address the guest's SSH
	// endpoint listens on, waiting up to timeout for it to be known.
	SSHHostname(ctx context.Context, timeout time.Duration) (string, error)

	// SSHPort returns the SSH endpoint port.
	SSHPort() int

	// SSHUsername returns the guest account provisioned for SSH.
	SSHUsername() string

	// ManagementIPv4 returns the instance's IPv4 address on the management
	// network, or "" while unassigned.
	ManagementIPv4(ctx context.Context) string

	// IPv6 returns the instance's IPv6 address, or "" when none.
	IPv6(ctx context.Context) string

	// WaitUntilSSHUp blocks until an SSH probe against the instance's
	// endpoint succeeds, or fails with a ReadinessTimeoutError.
	WaitUntilSSHUp(ctx context.Context, timeout time.Duration) error

	// Close releases the instance's native handles. It does not stop the
	// instance; it severs this process's ownership of backend resources.
	Close() error
}

// StatusMonitor observes every state transition. Implementations persist the
// update before returning: the notification is delivered synchronously from
// inside the transition so a crash cannot lose it.
type StatusMonitor interface {
	// StateChanged is invoked with the instance name and its new state
	// before the triggering lifecycle call returns.
	StateChanged(name string, state State)
}

// Factory creates backend instances. One factory exists per daemon run; it
// owns the backend's native connection for the daemon's lifetime and is the
// only component allowed to release it (via Close).
type Factory interface {
	// Driver returns the driver name this factory serves.
	Driver() string

	// Create builds a new instance from the launch description. The
	// description is owned by the caller and treated as immutable. Native
	// handles acquired during construction belong to the returned
	// instance.
	Create(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor StatusMonitor) (VirtualMachine, error)

	// Recover re-adopts an instance that already exists in the backend,
	// reconciling the initial state from backend-reported status. Used
	// when the daemon restarts with instances still present.
	Recover(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor StatusMonitor) (VirtualMachine, error)

	// Remove deletes the backend resources of an instance that is off.
	Remove(ctx context.Context, name string) error

	// HostNetworks lists the host interfaces this backend can bridge
	// instances onto.
	HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error)

	// Close releases the factory-owned backend connection. Instances
	// created by the factory must be closed first.
	Close() error
}

// ResolveNetworks validates the description's extra networks against a host
// interface scan. Every referenced ID must exist and be a bridge or ethernet
// device; the error identifies the first offending ID.
func ResolveNetworks(desc *v1alpha1.VirtualMachine, infos map[string]netscan.InterfaceInfo) error {
	for _, spec := range desc.Spec.Networks {
		info, ok := infos[spec.ID]
		if !ok {
			return &LifecycleError{
				Instance: desc.Name,
				Op:       "create",
				Err:      errUnknownNetwork(spec.ID),
			}
		}
		if info.Type != netscan.TypeBridge && info.Type != netscan.TypeEthernet {
			return &LifecycleError{
				Instance: desc.Name,
				Op:       "create",
				Err:      errUnknownNetwork(spec.ID),
			}
		}
	}
	return nil
}
