package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/vm"
)

// fakeMachine is a minimal vm.VirtualMachine for table tests.
type fakeMachine struct {
	name  string
	state vm.State

	startErr   error
	stopErr    error
	suspendErr error
	waitErr    error
	closeErr   error

	startCalls   int
	stopCalls    int
	suspendCalls int
	closeCalls   int
	forcedStop   bool

	hostname string
	port     int
	ipv4     string
	ipv6     string
}

func (m *fakeMachine) Name() string { return m.name }

func (m *fakeMachine) Start(ctx context.Context) error {
	m.startCalls++
	if m.startErr != nil {
		return m.startErr
	}
	m.state = vm.StateRunning
	return nil
}

func (m *fakeMachine) Stop(ctx context.Context, force bool) error {
	m.stopCalls++
	m.forcedStop = force
	if m.stopErr != nil {
		return m.stopErr
	}
	m.state = vm.StateOff
	return nil
}

func (m *fakeMachine) Shutdown(ctx context.Context, force bool) error {
	return m.Stop(ctx, force)
}

func (m *fakeMachine) Suspend(ctx context.Context) error {
	m.suspendCalls++
	if m.suspendErr != nil {
		return m.suspendErr
	}
	m.state = vm.StateSuspended
	return nil
}

func (m *fakeMachine) CurrentState() vm.State { return m.state }

func (m *fakeMachine) UpdateState(ctx context.Context) (vm.State, error) {
	return m.state, nil
}

func (m *fakeMachine) EnsureRunning() error {
	if m.state != vm.StateRunning && m.state != vm.StateStarting {
		return &vm.LifecycleError{Instance: m.name, Op: "ensure running", State: m.state}
	}
	return nil
}

func (m *fakeMachine) SSHHostname(ctx context.Context, timeout time.Duration) (string, error) {
	if m.hostname == "" {
		return "", &vm.ReadinessTimeoutError{Instance: m.name, Timeout: timeout}
	}
	return m.hostname, nil
}

func (m *fakeMachine) SSHPort() int { return m.port }

func (m *fakeMachine) SSHUsername() string { return "ubuntu" }

func (m *fakeMachine) ManagementIPv4(ctx context.Context) string { return m.ipv4 }

func (m *fakeMachine) IPv6(ctx context.Context) string { return m.ipv6 }

func (m *fakeMachine) WaitUntilSSHUp(ctx context.Context, timeout time.Duration) error {
	return m.waitErr
}

func (m *fakeMachine) Close() error {
	m.closeCalls++
	return m.closeErr
}

// mockFactory is a func-field vm.Factory; unset operations fail the call.
type mockFactory struct {
	driver           string
	createFunc       func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error)
	recoverFunc      func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error)
	removeFunc       func(ctx context.Context, name string) error
	hostNetworksFunc func(ctx context.Context) (map[string]netscan.InterfaceInfo, error)
	closeCalls       int
}

func (f *mockFactory) Driver() string {
	if f.driver == "" {
		return "qemu"
	}
	return f.driver
}

func (f *mockFactory) Create(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if f.createFunc == nil {
		return nil, fmt.Errorf("unexpected Create call for %s", desc.Name)
	}
	return f.createFunc(ctx, desc, monitor)
}

func (f *mockFactory) Recover(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if f.recoverFunc == nil {
		return nil, fmt.Errorf("unexpected Recover call for %s", desc.Name)
	}
	return f.recoverFunc(ctx, desc, monitor)
}

func (f *mockFactory) Remove(ctx context.Context, name string) error {
	if f.removeFunc == nil {
		return fmt.Errorf("unexpected Remove call for %s", name)
	}
	return f.removeFunc(ctx, name)
}

func (f *mockFactory) HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
	if f.hostNetworksFunc == nil {
		return map[string]netscan.InterfaceInfo{}, nil
	}
	return f.hostNetworksFunc(ctx)
}

func (f *mockFactory) Close() error {
	f.closeCalls++
	return nil
}
