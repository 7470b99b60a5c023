package daemon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/metadata"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/status"
	"github.com/jbweber/crucible/internal/vm"
)

func newTestDaemon(t *testing.T, factory *mockFactory) *Daemon {
	t.Helper()
	return New(factory, metadata.NewStore(t.TempDir()))
}

func launchDesc(name string) *v1alpha1.VirtualMachine {
	desc := v1alpha1.NewVirtualMachine(name)
	desc.Spec.Image = "release:noble"
	return desc
}

func TestDaemon_LaunchCreatesAndBoots(t *testing.T) {
	machine := &fakeMachine{name: "primary", hostname: "127.0.0.1", port: 2222, ipv4: "10.0.0.5"}
	factory := &mockFactory{
		createFunc: func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
			return machine, nil
		},
	}
	d := newTestDaemon(t, factory)

	got, err := d.Launch(context.Background(), launchDesc("primary"))
	if err != nil {
		t.Fatalf("Launch failed: %v", err)
	}
	if got != machine {
		t.Error("Launch returned a different machine")
	}
	if machine.startCalls != 1 {
		t.Errorf("startCalls = %d", machine.startCalls)
	}

	record, err := d.records.Load("primary")
	if err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
	if record.Status.Driver != "qemu" {
		t.Errorf("record driver = %q", record.Status.Driver)
	}
	if record.Status.SSHHostname != "127.0.0.1" || record.Status.SSHPort != 2222 {
		t.Errorf("endpoint = %s:%d", record.Status.SSHHostname, record.Status.SSHPort)
	}
	if record.GetAddress(v1alpha1.AddressTypeIPv4) != "10.0.0.5" {
		t.Errorf("ipv4 = %q", record.GetAddress(v1alpha1.AddressTypeIPv4))
	}
	if !status.IsConditionTrue(record, status.ConditionReady) {
		t.Error("expected Ready condition")
	}
	if !status.IsConditionTrue(record, status.ConditionProvisioned) {
		t.Error("expected Provisioned condition")
	}
}

func TestDaemon_LaunchRejectsUnsupportedRemote(t *testing.T) {
	factory := &mockFactory{driver: "lxd"}
	d := newTestDaemon(t, factory)

	desc := launchDesc("primary")
	desc.Spec.Image = "snapcraft:core24"
	if _, err := d.Launch(context.Background(), desc); err == nil {
		t.Error("expected error for unsupported remote")
	}
	if d.records.Exists("primary") {
		t.Error("rejected launch must not leave a record")
	}
}

func TestDaemon_LaunchRejectsDuplicate(t *testing.T) {
	d := newTestDaemon(t, &mockFactory{})
	if err := d.records.Save(launchDesc("primary")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := d.Launch(context.Background(), launchDesc("primary")); err == nil {
		t.Error("expected error for existing instance")
	}
}

func TestDaemon_LaunchRejectsUnknownNetwork(t *testing.T) {
	factory := &mockFactory{
		hostNetworksFunc: func(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
			return map[string]netscan.InterfaceInfo{}, nil
		},
	}
	d := newTestDaemon(t, factory)

	desc := launchDesc("primary")
	desc.Spec.Networks = []v1alpha1.NetworkSpec{{ID: "br0", Mode: v1alpha1.NetworkModeBridged}}
	_, err := d.Launch(context.Background(), desc)
	var lerr *vm.LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LifecycleError, got %v", err)
	}
}

func TestDaemon_LaunchCreateFailureCleansRecord(t *testing.T) {
	factory := &mockFactory{
		createFunc: func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
			return nil, errors.New("backend exploded")
		},
	}
	d := newTestDaemon(t, factory)

	if _, err := d.Launch(context.Background(), launchDesc("primary")); err == nil {
		t.Fatal("expected error")
	}
	if d.records.Exists("primary") {
		t.Error("failed create must not leave a record")
	}
}

func TestDaemon_LaunchReadinessTimeoutKeepsInstance(t *testing.T) {
	machine := &fakeMachine{
		name:    "primary",
		waitErr: &vm.ReadinessTimeoutError{Instance: "primary", Timeout: time.Minute},
	}
	factory := &mockFactory{
		createFunc: func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
			return machine, nil
		},
	}
	d := newTestDaemon(t, factory)

	got, err := d.Launch(context.Background(), launchDesc("primary"))
	var terr *vm.ReadinessTimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("expected ReadinessTimeoutError, got %v", err)
	}
	if got == nil {
		t.Error("the booted instance should still be returned")
	}
	// The instance stays adopted; a later stop must find it.
	if err := d.Stop(context.Background(), "primary", false); err != nil {
		t.Errorf("Stop after probe timeout failed: %v", err)
	}
}

func TestDaemon_RecoverSkipsForeignDriver(t *testing.T) {
	factory := &mockFactory{
		recoverFunc: func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
			return &fakeMachine{name: desc.Name, state: vm.StateRunning}, nil
		},
	}
	d := newTestDaemon(t, factory)

	mine := launchDesc("mine")
	mine.Status.Driver = "qemu"
	other := launchDesc("other")
	other.Status.Driver = "libvirt"
	for _, desc := range []*v1alpha1.VirtualMachine{mine, other} {
		if err := d.records.Save(desc); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if _, err := d.instance("mine"); err != nil {
		t.Errorf("matching instance not adopted: %v", err)
	}
	if _, err := d.instance("other"); err == nil {
		t.Error("foreign-driver instance must not be adopted")
	}
}

func TestDaemon_RecoverToleratesBackendFailure(t *testing.T) {
	factory := &mockFactory{
		recoverFunc: func(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
			if desc.Name == "broken" {
				return nil, errors.New("no artifacts")
			}
			return &fakeMachine{name: desc.Name}, nil
		},
	}
	d := newTestDaemon(t, factory)

	for _, name := range []string{"broken", "healthy"} {
		if err := d.records.Save(launchDesc(name)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	if err := d.Recover(context.Background()); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if _, err := d.instance("healthy"); err != nil {
		t.Errorf("healthy instance not adopted: %v", err)
	}
	if _, err := d.instance("broken"); err == nil {
		t.Error("broken instance must not be adopted")
	}
}

func TestDaemon_OperationsRequireKnownInstance(t *testing.T) {
	d := newTestDaemon(t, &mockFactory{})
	ctx := context.Background()

	if err := d.Start(ctx, "ghost"); err == nil {
		t.Error("Start on unknown instance must fail")
	}
	if err := d.Stop(ctx, "ghost", false); err == nil {
		t.Error("Stop on unknown instance must fail")
	}
	if err := d.Suspend(ctx, "ghost"); err == nil {
		t.Error("Suspend on unknown instance must fail")
	}
	if err := d.Delete(ctx, "ghost", false); err == nil {
		t.Error("Delete on unknown instance must fail")
	}
}

func TestDaemon_DeleteRejectsRunningWithoutForce(t *testing.T) {
	machine := &fakeMachine{name: "primary", state: vm.StateRunning}
	d := newTestDaemon(t, &mockFactory{})
	d.adopt("primary", machine)

	err := d.Delete(context.Background(), "primary", false)
	var lerr *vm.LifecycleError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected LifecycleError, got %v", err)
	}
	if machine.closeCalls != 0 {
		t.Error("rejected delete must not release handles")
	}
}

func TestDaemon_DeleteWithForceStopsFirst(t *testing.T) {
	machine := &fakeMachine{name: "primary", state: vm.StateRunning}
	removed := ""
	factory := &mockFactory{
		removeFunc: func(ctx context.Context, name string) error {
			removed = name
			return nil
		},
	}
	d := newTestDaemon(t, factory)
	d.adopt("primary", machine)
	if err := d.records.Save(launchDesc("primary")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := d.Delete(context.Background(), "primary", true); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !machine.forcedStop || machine.stopCalls != 1 {
		t.Error("expected one forced stop")
	}
	if machine.closeCalls != 1 {
		t.Errorf("closeCalls = %d", machine.closeCalls)
	}
	if removed != "primary" {
		t.Errorf("backend removal for %q", removed)
	}
	if d.records.Exists("primary") {
		t.Error("record must be deleted")
	}
	if _, err := d.instance("primary"); err == nil {
		t.Error("instance must leave the table")
	}
}

func TestDaemon_DeleteStoppedInstance(t *testing.T) {
	machine := &fakeMachine{name: "primary", state: vm.StateOff}
	factory := &mockFactory{
		removeFunc: func(ctx context.Context, name string) error { return nil },
	}
	d := newTestDaemon(t, factory)
	d.adopt("primary", machine)

	if err := d.Delete(context.Background(), "primary", false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if machine.stopCalls != 0 {
		t.Error("stopped instance must not be stopped again")
	}
}

func TestDaemon_ListReconcilesState(t *testing.T) {
	machine := &fakeMachine{name: "primary", state: vm.StateRunning}
	d := newTestDaemon(t, &mockFactory{})
	d.adopt("primary", machine)

	desc := launchDesc("primary")
	desc.Status.State = vm.StateOff.String()
	if err := d.records.Save(desc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	descs, err := d.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(descs) != 1 {
		t.Fatalf("listed %d instances", len(descs))
	}
	if descs[0].Status.State != vm.StateRunning.String() {
		t.Errorf("state = %q, want running", descs[0].Status.State)
	}
	if descs[0].Status.Phase != v1alpha1.VMPhaseRunning {
		t.Errorf("phase = %q", descs[0].Status.Phase)
	}
}

func TestDaemon_CloseReleasesInReverseOrder(t *testing.T) {
	var order []string
	machineFor := func(name string) *trackingMachine {
		return &trackingMachine{fakeMachine: fakeMachine{name: name}, order: &order}
	}
	factory := &mockFactory{}
	d := newTestDaemon(t, factory)
	d.adopt("first", machineFor("first"))
	d.adopt("second", machineFor("second"))

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("close order = %v", order)
	}
	if factory.closeCalls != 1 {
		t.Errorf("factory closeCalls = %d", factory.closeCalls)
	}
}

type trackingMachine struct {
	fakeMachine
	order *[]string
}

func (m *trackingMachine) Close() error {
	*m.order = append(*m.order, m.name)
	return m.fakeMachine.Close()
}

func TestDaemon_SetReadyTimeout(t *testing.T) {
	d := newTestDaemon(t, &mockFactory{})

	d.SetReadyTimeout(30 * time.Second)
	if d.readyTimeout != 30*time.Second {
		t.Errorf("readyTimeout = %v", d.readyTimeout)
	}
	d.SetReadyTimeout(0)
	if d.readyTimeout != 30*time.Second {
		t.Errorf("readyTimeout changed on zero: %v", d.readyTimeout)
	}
}
