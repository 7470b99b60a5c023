package lxd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/canonical/lxd/shared/api"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/vm"
)

// recordingMonitor captures state notifications in order.
type recordingMonitor struct {
	mu     sync.Mutex
	states []vm.State
}

func (r *recordingMonitor) StateChanged(name string, state vm.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recordingMonitor) recorded() []vm.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]vm.State(nil), r.states...)
}

func newTestMachine(t *testing.T, initial vm.State, c client) (*Machine, *recordingMonitor) {
	t.Helper()
	monitor := &recordingMonitor{}
	return &Machine{
		Base:  vm.NewBase("primary", initial, monitor),
		api:   c,
		desc:  v1alpha1.NewVirtualMachine("primary"),
		grace: 30 * time.Second,
	}, monitor
}

func TestMachine_Start(t *testing.T) {
	var gotReq api.InstanceStatePut
	c := &mockClient{
		updateInstanceStateFunc: func(name string, req api.InstanceStatePut, etag string) error {
			gotReq = req
			return nil
		},
	}
	m, monitor := newTestMachine(t, vm.StateOff, c)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if gotReq.Action != "start" {
		t.Errorf("action = %q", gotReq.Action)
	}
	if m.CurrentState() != vm.StateRunning {
		t.Errorf("state = %v", m.CurrentState())
	}
	want := []vm.State{vm.StateStarting, vm.StateRunning}
	if got := monitor.recorded(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestMachine_StartWhileRunningRejected(t *testing.T) {
	m, _ := newTestMachine(t, vm.StateRunning, &mockClient{})

	err := m.Start(context.Background())
	var lerr *vm.LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LifecycleError, got %v", err)
	}
}

func TestMachine_StartFailureReverts(t *testing.T) {
	c := &mockClient{
		updateInstanceStateFunc: func(string, api.InstanceStatePut, string) error {
			return fmt.Errorf("agent unreachable")
		},
	}
	m, monitor := newTestMachine(t, vm.StateOff, c)

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if m.CurrentState() != vm.StateOff {
		t.Errorf("state = %v, want off", m.CurrentState())
	}
	want := []vm.State{vm.StateStarting, vm.StateOff}
	if got := monitor.recorded(); len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("notifications = %v, want %v", got, want)
	}
}

func TestMachine_StopPassesGraceAndForce(t *testing.T) {
	tests := []struct {
		name  string
		force bool
	}{
		{"graceful", false},
		{"forced", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotReq api.InstanceStatePut
			c := &mockClient{
				updateInstanceStateFunc: func(name string, req api.InstanceStatePut, etag string) error {
					gotReq = req
					return nil
				},
			}
			m, _ := newTestMachine(t, vm.StateRunning, c)

			if err := m.Stop(context.Background(), tt.force); err != nil {
				t.Fatalf("Stop failed: %v", err)
			}
			if gotReq.Action != "stop" {
				t.Errorf("action = %q", gotReq.Action)
			}
			if gotReq.Force != tt.force {
				t.Errorf("force = %v", gotReq.Force)
			}
			if gotReq.Timeout != 30 {
				t.Errorf("timeout = %d, want grace in seconds", gotReq.Timeout)
			}
			if m.CurrentState() != vm.StateOff {
				t.Errorf("state = %v", m.CurrentState())
			}
		})
	}
}

func TestMachine_StopWhileOffIsNoop(t *testing.T) {
	m, monitor := newTestMachine(t, vm.StateOff, &mockClient{})

	if err := m.Stop(context.Background(), false); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := monitor.recorded(); len(got) != 0 {
		t.Errorf("unexpected notifications: %v", got)
	}
}

func TestMachine_SuspendUnsupported(t *testing.T) {
	m, monitor := newTestMachine(t, vm.StateRunning, &mockClient{})

	err := m.Suspend(context.Background())
	if !errors.Is(err, vm.ErrSuspendUnsupported) {
		t.Fatalf("expected ErrSuspendUnsupported, got %v", err)
	}
	if m.CurrentState() != vm.StateRunning {
		t.Errorf("state = %v, must be unchanged", m.CurrentState())
	}
	if got := monitor.recorded(); len(got) != 0 {
		t.Errorf("suspend must not notify, got %v", got)
	}
}

func TestMachine_UpdateState(t *testing.T) {
	tests := []struct {
		name string
		code api.StatusCode
		want vm.State
	}{
		{"running", api.Running, vm.StateRunning},
		{"starting", api.Starting, vm.StateStarting},
		{"stopping", api.Stopping, vm.StateDelayedShutdown},
		{"frozen", api.Frozen, vm.StateSuspended},
		{"stopped", api.Stopped, vm.StateOff},
		{"errored", api.Error, vm.StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockClient{
				getInstanceStateFunc: func(string) (*api.InstanceState, string, error) {
					return &api.InstanceState{StatusCode: tt.code}, "", nil
				},
			}
			m, _ := newTestMachine(t, vm.StateUnknown, c)

			state, err := m.UpdateState(context.Background())
			if err != nil {
				t.Fatalf("UpdateState failed: %v", err)
			}
			if state != tt.want {
				t.Errorf("state = %v, want %v", state, tt.want)
			}
		})
	}
}

func TestMachine_UpdateStateNativeFailure(t *testing.T) {
	c := &mockClient{
		getInstanceStateFunc: func(string) (*api.InstanceState, string, error) {
			return nil, "", fmt.Errorf("daemon unreachable")
		},
	}
	m, _ := newTestMachine(t, vm.StateRunning, c)

	state, err := m.UpdateState(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if state != vm.StateUnknown {
		t.Errorf("state = %v, want unknown", state)
	}
}

func TestMachine_Addresses(t *testing.T) {
	c := &mockClient{
		getInstanceStateFunc: func(string) (*api.InstanceState, string, error) {
			return &api.InstanceState{
				Network: map[string]api.InstanceStateNetwork{
					"lo": {
						Addresses: []api.InstanceStateNetworkAddress{
							{Family: "inet", Address: "127.0.0.1", Scope: "local"},
						},
					},
					"eth0": {
						Addresses: []api.InstanceStateNetworkAddress{
							{Family: "inet", Address: "10.167.44.5", Scope: "global"},
							{Family: "inet6", Address: "fd42::5", Scope: "global"},
						},
					},
				},
			}, "", nil
		},
	}
	m, _ := newTestMachine(t, vm.StateRunning, c)

	if got := m.ManagementIPv4(context.Background()); got != "10.167.44.5" {
		t.Errorf("ManagementIPv4 = %q", got)
	}
	if got := m.IPv6(context.Background()); got != "fd42::5" {
		t.Errorf("IPv6 = %q", got)
	}
}

func TestMachine_AddressesUnassigned(t *testing.T) {
	c := &mockClient{
		getInstanceStateFunc: func(string) (*api.InstanceState, string, error) {
			return &api.InstanceState{}, "", nil
		},
	}
	m, _ := newTestMachine(t, vm.StateRunning, c)

	if got := m.ManagementIPv4(context.Background()); got != "" {
		t.Errorf("ManagementIPv4 = %q, want empty", got)
	}
}

func TestMachine_SSHHostnameTimesOut(t *testing.T) {
	c := &mockClient{
		getInstanceStateFunc: func(string) (*api.InstanceState, string, error) {
			return &api.InstanceState{}, "", nil
		},
	}
	m, _ := newTestMachine(t, vm.StateRunning, c)

	_, err := m.SSHHostname(context.Background(), 10*time.Millisecond)
	var terr *vm.ReadinessTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected ReadinessTimeoutError, got %v", err)
	}
}

func TestMachine_WaitUntilSSHUpRequiresRunning(t *testing.T) {
	m, _ := newTestMachine(t, vm.StateOff, &mockClient{})

	err := m.WaitUntilSSHUp(context.Background(), time.Second)
	var lerr *vm.LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LifecycleError, got %v", err)
	}
}
