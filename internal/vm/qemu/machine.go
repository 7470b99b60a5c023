package qemu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/log"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/disk"
	"github.com/jbweber/crucible/internal/handle"
	"github.com/jbweber/crucible/internal/vm"
)

// suspendTag names the on-disk snapshot a suspended instance resumes from.
const suspendTag = "crucible-suspend"

// vmStartTimeout bounds how long qemu gets to bring up its QMP socket.
const vmStartTimeout = 10 * time.Second

// statePollInterval paces shutdown polling.
const statePollInterval = time.Second

// monitorClient is the slice of the QMP client the machine drives. Tests
// substitute fakes.
type monitorClient interface {
	SystemPowerdown(ctx context.Context) error
	Quit(ctx context.Context) error
	QueryStatus(ctx context.Context) (string, error)
	SaveVM(ctx context.Context, tag string) error
	DelVM(ctx context.Context, tag string) error
	Close() error
}

// Machine is one qemu-backed instance: a qemu-system process controlled over
// its QMP socket. The process and the QMP connection are the machine's two
// native handles; Close releases them in reverse acquisition order, without
// stopping the guest.
type Machine struct {
	vm.Base

	desc    *v1alpha1.VirtualMachine
	storage *disk.Manager
	probe   vm.Prober
	grace   time.Duration
	port    int

	// Seams for tests; the factory wires the real implementations.
	spawn       func(ctx context.Context, args []string) (int, error)
	dial        func(ctx context.Context) (monitorClient, error)
	alive       func(pid int) bool
	kill        func(pid int) error
	hasSnapshot func() bool

	mu  sync.Mutex
	pid int
	qmp *handle.Handle[monitorClient]
}

var _ vm.VirtualMachine = (*Machine)(nil)

// monitor returns the live QMP connection, if the machine holds one.
func (m *Machine) monitor() (monitorClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.qmp == nil {
		return nil, false
	}
	c, err := m.qmp.Get()
	if err != nil {
		return nil, false
	}
	return c, true
}

// adopt records the process and QMP connection as the machine's handles.
func (m *Machine) adopt(pid int, qmp monitorClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pid = pid
	m.qmp = handle.New(qmp, func(c monitorClient) error { return c.Close() })
}

// releaseHandles drops the QMP connection first, then the process reference.
func (m *Machine) releaseHandles() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.qmp != nil {
		err = m.qmp.Close()
	}
	m.pid = 0
	return err
}

// buildArgs assembles the qemu command line: KVM acceleration, the qcow2
// overlay as the virtio boot disk, the cloud-init seed as a cdrom, user-mode
// networking with the guest's sshd forwarded to a deterministic host port,
// and one bridged NIC per extra network.
func (m *Machine) buildArgs(resume bool) []string {
	name := m.Name()
	args := []string{
		"-name", name,
		"-machine", "type=q35,accel=kvm",
		"-cpu", "host",
		"-smp", strconv.Itoa(m.desc.Spec.VCPUs),
		"-m", fmt.Sprintf("%dM", m.desc.Spec.MemoryMiB),
		"-drive", fmt.Sprintf("file=%s,if=virtio,format=qcow2,discard=unmap", m.storage.BootDiskPath(name)),
		"-drive", fmt.Sprintf("file=%s,if=virtio,media=cdrom,format=raw,readonly=on", m.storage.SeedPath(name)),
		"-netdev", fmt.Sprintf("user,id=mgmt,hostfwd=tcp:127.0.0.1:%d-:22", m.port),
		"-device", "virtio-net-pci,netdev=mgmt,mac=" + managementMAC(m.desc),
	}

	for i, spec := range m.desc.Spec.Networks {
		id := fmt.Sprintf("extra%d", i)
		args = append(args,
			"-netdev", fmt.Sprintf("bridge,id=%s,br=%s", id, spec.ID),
			"-device", fmt.Sprintf("virtio-net-pci,netdev=%s,mac=%s", id, extraMAC(m.desc, spec)),
		)
	}

	args = append(args,
		"-qmp", "unix:"+qmpSocketPath(m.storage, name)+",server,nowait",
		"-pidfile", pidFilePath(m.storage, name),
		"-display", "none",
		"-serial", "none",
	)

	if resume {
		args = append(args, "-loadvm", suspendTag)
	}
	return args
}

// Start implements vm.VirtualMachine. A suspended instance resumes from its
// snapshot, which is then dropped so the saved state cannot be replayed.
func (m *Machine) Start(ctx context.Context) error {
	state := m.CurrentState()
	if !state.CanStart() {
		return m.TransitionError("start")
	}
	resume := state == vm.StateSuspended

	m.SetState(vm.StateStarting)
	if err := m.boot(ctx, resume); err != nil {
		m.SetState(vm.StateOff)
		return m.NativeError("start", err)
	}

	m.SetState(vm.StateRunning)
	return nil
}

func (m *Machine) boot(ctx context.Context, resume bool) error {
	pid, err := m.spawn(ctx, m.buildArgs(resume))
	if err != nil {
		return err
	}

	qmp, err := m.dial(ctx)
	if err != nil {
		_ = m.kill(pid)
		return err
	}

	if resume {
		// Drop the snapshot now that it has been loaded: a dead process must
		// read as off, not suspended.
		if err := qmp.DelVM(ctx, suspendTag); err != nil {
			log.G(ctx).WithError(err).WithField("instance", m.Name()).Warn("qemu: failed to drop resume snapshot")
		}
	}

	m.adopt(pid, qmp)
	return nil
}

// Stop implements vm.VirtualMachine. Without force the guest gets an ACPI
// powerdown request and the grace window to exit; then the process is
// killed.
func (m *Machine) Stop(ctx context.Context, force bool) error {
	state := m.CurrentState()
	if state == vm.StateOff {
		return nil
	}
	if !state.CanStop() && !force {
		return m.TransitionError("stop")
	}

	if force {
		if err := m.terminate(ctx); err != nil {
			return m.NativeError("stop", err)
		}
		m.SetState(vm.StateOff)
		return nil
	}

	qmp, ok := m.monitor()
	if !ok {
		return m.NativeError("stop", fmt.Errorf("no QMP connection to instance %q", m.Name()))
	}
	if err := qmp.SystemPowerdown(ctx); err != nil {
		return m.NativeError("stop", err)
	}

	if err := m.awaitExit(ctx, m.grace); err != nil {
		// Guest did not power off in time; escalate.
		if err := m.terminate(ctx); err != nil {
			return m.NativeError("stop", err)
		}
	}

	_ = m.releaseHandles()
	m.SetState(vm.StateOff)
	return nil
}

// terminate ends the qemu process: politely over QMP when connected, with a
// kill otherwise, and waits for it to be gone.
func (m *Machine) terminate(ctx context.Context) error {
	m.mu.Lock()
	pid := m.pid
	m.mu.Unlock()

	if qmp, ok := m.monitor(); ok {
		if err := qmp.Quit(ctx); err == nil {
			if err := m.awaitExit(ctx, vmStartTimeout); err == nil {
				return m.releaseHandles()
			}
		}
	}

	if pid > 0 {
		if err := m.kill(pid); err != nil {
			return err
		}
	}
	return m.releaseHandles()
}

// awaitExit polls until the qemu process is gone or the window elapses.
func (m *Machine) awaitExit(ctx context.Context, window time.Duration) error {
	m.mu.Lock()
	pid := m.pid
	m.mu.Unlock()

	if pid == 0 {
		return nil
	}

	deadline := time.Now().Add(window)
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	for {
		if !m.alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("instance %q did not shut down within %s", m.Name(), window)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown implements vm.VirtualMachine; for qemu it is Stop.
func (m *Machine) Shutdown(ctx context.Context, force bool) error {
	return m.Stop(ctx, force)
}

// Suspend implements vm.VirtualMachine: savevm writes guest RAM and device
// state into the overlay, then the process exits. Start resumes with
// -loadvm.
func (m *Machine) Suspend(ctx context.Context) error {
	if !m.CurrentState().CanSuspend() {
		return m.TransitionError("suspend")
	}

	qmp, ok := m.monitor()
	if !ok {
		return m.NativeError("suspend", fmt.Errorf("no QMP connection to instance %q", m.Name()))
	}

	m.SetState(vm.StateSuspending)
	if err := qmp.SaveVM(ctx, suspendTag); err != nil {
		m.SetState(vm.StateRunning)
		return m.NativeError("suspend", err)
	}

	if err := m.terminate(ctx); err != nil {
		m.SetState(vm.StateRunning)
		return m.NativeError("suspend", err)
	}

	m.SetState(vm.StateSuspended)
	return nil
}

// UpdateState implements vm.VirtualMachine. A live process is interrogated
// over QMP; a dead one is suspended when the resume snapshot exists in the
// overlay and off otherwise.
func (m *Machine) UpdateState(ctx context.Context) (vm.State, error) {
	m.mu.Lock()
	pid := m.pid
	m.mu.Unlock()

	if pid != 0 && m.alive(pid) {
		mapped := vm.StateRunning
		if qmp, ok := m.monitor(); ok {
			status, err := qmp.QueryStatus(ctx)
			if err != nil {
				m.SetState(vm.StateUnknown)
				return vm.StateUnknown, m.NativeError("update state", err)
			}
			mapped = mapRunStatus(status)
		}
		m.SetState(mapped)
		return mapped, nil
	}

	_ = m.releaseHandles()
	mapped := vm.StateOff
	if m.hasSnapshot() {
		mapped = vm.StateSuspended
	}
	m.SetState(mapped)
	return mapped, nil
}

// mapRunStatus maps qemu's query-status values onto the contract's states.
func mapRunStatus(status string) vm.State {
	switch status {
	case "running", "finish-migrate":
		return vm.StateRunning
	case "shutdown":
		return vm.StateDelayedShutdown
	case "paused", "suspended", "prelaunch", "save-vm":
		return vm.StateSuspended
	default:
		return vm.StateUnknown
	}
}

// SSHHostname implements vm.VirtualMachine. User-mode networking forwards
// the guest's sshd to the loopback, so the hostname is known immediately.
func (m *Machine) SSHHostname(ctx context.Context, timeout time.Duration) (string, error) {
	return "127.0.0.1", nil
}

// SSHPort implements vm.VirtualMachine.
func (m *Machine) SSHPort() int {
	return m.port
}

// SSHUsername implements vm.VirtualMachine.
func (m *Machine) SSHUsername() string {
	return m.desc.GetUsername()
}

// ManagementIPv4 implements vm.VirtualMachine. The guest sits behind
// user-mode NAT; the loopback forward is the only reachable address.
func (m *Machine) ManagementIPv4(ctx context.Context) string {
	if m.CurrentState() == vm.StateRunning {
		return "127.0.0.1"
	}
	return ""
}

// IPv6 implements vm.VirtualMachine. No IPv6 forward is configured.
func (m *Machine) IPv6(ctx context.Context) string {
	return ""
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
	return vm.AwaitSSH(ctx, m.probe, m.Name(), hostname, m.port, timeout)
}

// Close implements vm.VirtualMachine: the QMP connection is released, the
// process reference dropped. The guest keeps running; a later Recover
// re-adopts it through the pidfile and QMP socket.
func (m *Machine) Close() error {
	return m.releaseHandles()
}

// defaultAlive reports whether a pid still exists, via the null signal.
func defaultAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

// defaultKill takes down the qemu process group.
func defaultKill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("failed to kill qemu process %d: %w", pid, err)
	}
	return nil
}

// defaultSpawn launches qemu in its own process group so it outlives the
// daemon, and reaps it in the background when it exits.
func defaultSpawn(ctx context.Context, binary string, args []string) (int, error) {
	cmd := exec.Command(binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start qemu: %w", err)
	}

	pid := cmd.Process.Pid
	go func() {
		if err := cmd.Wait(); err != nil {
			log.G(ctx).WithError(err).WithField("pid", pid).Debug("qemu: process exited")
		}
	}()
	return pid, nil
}
