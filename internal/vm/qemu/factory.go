package qemu

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/cloudinit"
	"github.com/jbweber/crucible/internal/disk"
	"github.com/jbweber/crucible/internal/images"
	"github.com/jbweber/crucible/internal/naming"
	"github.com/jbweber/crucible/internal/netscan"
	"github.com/jbweber/crucible/internal/sshprobe"
	"github.com/jbweber/crucible/internal/vm"
)

// qemuBinary is the system emulator the backend drives.
const qemuBinary = "qemu-system-x86_64"

// defaultShutdownGrace is how long a graceful shutdown may take before the
// backend escalates to killing the process.
const defaultShutdownGrace = 2 * time.Minute

// recoverDialTimeout bounds the QMP reconnect attempt when re-adopting an
// instance; a socket that is not answering promptly belongs to a dead
// process.
const recoverDialTimeout = time.Second

// Factory creates qemu-backed instances. There is no daemon to connect to;
// the backend's only global dependency is the emulator binary on PATH.
type Factory struct {
	binary  string
	storage *disk.Manager
	images  *images.Store
	base    string
	grace   time.Duration
}

// NewFactory locates the qemu binary and roots instance artifacts under
// backendPath.
func NewFactory(ctx context.Context, backendPath string) (*Factory, error) {
	binary, err := exec.LookPath(qemuBinary)
	if err != nil {
		return nil, fmt.Errorf("%s not found on PATH: %w", qemuBinary, err)
	}

	return &Factory{
		binary:  binary,
		storage: disk.NewManager(backendPath),
		images:  images.NewStore(backendPath),
		base:    backendPath,
		grace:   defaultShutdownGrace,
	}, nil
}

// SetShutdownGrace overrides the graceful shutdown window.
func (f *Factory) SetShutdownGrace(d time.Duration) {
	if d > 0 {
		f.grace = d
	}
}

// Driver implements vm.Factory.
func (f *Factory) Driver() string {
	return "qemu"
}

// Create implements vm.Factory. Artifacts acquired along the way are torn
// down in reverse order when a later step fails, so a failed create leaves
// nothing behind.
func (f *Factory) Create(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	if err := naming.ValidateInstanceName(desc.Name); err != nil {
		return nil, err
	}
	if exists, err := f.storage.InstanceExists(desc.Name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("instance %q already exists", desc.Name)
	}

	backing, err := f.images.Resolve(desc.Spec.Image)
	if err != nil {
		return nil, err
	}
	if err := f.storage.CheckDiskSpace(desc.Spec.DiskGB); err != nil {
		return nil, err
	}
	if err := checkForwardPort(desc.Name); err != nil {
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

	cleanupDir = false
	return f.newMachine(desc, vm.StateOff, monitor)
}

// Recover implements vm.Factory: a live QMP socket means the process
// survived the daemon and is re-adopted as running; otherwise the state is
// read from the overlay (suspend snapshot present or not).
func (f *Factory) Recover(ctx context.Context, desc *v1alpha1.VirtualMachine, monitor vm.StatusMonitor) (vm.VirtualMachine, error) {
	exists, err := f.storage.InstanceExists(desc.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("instance %q has no artifacts under %s", desc.Name, f.base)
	}

	machine, err := f.newMachine(desc, vm.StateOff, monitor)
	if err != nil {
		return nil, err
	}

	if qmp, err := NewQMPClient(ctx, qmpSocketPath(f.storage, desc.Name), recoverDialTimeout); err == nil {
		pid, _ := readPidFile(pidFilePath(f.storage, desc.Name))
		machine.adopt(pid, qmp)
		// UpdateState reconciles from the live process and notifies the
		// monitor with whatever it finds.
		_, _ = machine.UpdateState(ctx)
		return machine, nil
	}

	if machine.hasSnapshot() {
		machine.SetState(vm.StateSuspended)
	}
	return machine, nil
}

func (f *Factory) newMachine(desc *v1alpha1.VirtualMachine, initial vm.State, monitor vm.StatusMonitor) (*Machine, error) {
	probe, err := sshprobe.New(desc.GetUsername(), desc.Spec.SSH.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	name := desc.Name
	m := &Machine{
		Base:    vm.NewBase(name, initial, monitor),
		desc:    desc,
		storage: f.storage,
		probe:   probe,
		grace:   f.grace,
		port:    SSHForwardPort(name),
	}
	m.spawn = func(ctx context.Context, args []string) (int, error) {
		return defaultSpawn(ctx, f.binary, args)
	}
	m.dial = func(ctx context.Context) (monitorClient, error) {
		return NewQMPClient(ctx, qmpSocketPath(f.storage, name), vmStartTimeout)
	}
	m.alive = defaultAlive
	m.kill = defaultKill
	m.hasSnapshot = func() bool {
		return snapshotExists(f.storage.BootDiskPath(name))
	}
	return m, nil
}

// Remove implements vm.Factory. The instance must be off; its process must
// be gone before the artifacts are deleted.
func (f *Factory) Remove(ctx context.Context, name string) error {
	if pid, err := readPidFile(pidFilePath(f.storage, name)); err == nil && defaultAlive(pid) {
		return &vm.LifecycleError{Instance: name, Op: "remove", State: vm.StateRunning}
	}
	return f.storage.RemoveInstance(name)
}

// HostNetworks implements vm.Factory via the sysfs interface scan.
func (f *Factory) HostNetworks(ctx context.Context) (map[string]netscan.InterfaceInfo, error) {
	return netscan.Scan(netscan.DefaultRoot), nil
}

// Close implements vm.Factory. The backend holds no global connection.
func (f *Factory) Close() error {
	return nil
}

// qmpSocketPath and pidFilePath locate the per-instance control files next
// to the disks.
func qmpSocketPath(storage *disk.Manager, name string) string {
	return filepath.Join(storage.InstanceDirectory(name), "qmp.sock")
}

func pidFilePath(storage *disk.Manager, name string) string {
	return filepath.Join(storage.InstanceDirectory(name), "qemu.pid")
}

// readPidFile parses the pid qemu wrote at startup.
func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile %s: %w", path, err)
	}
	return pid, nil
}

// SSHForwardPort derives the host port the guest's sshd is forwarded to.
// Like the generated MACs it is a stable function of the instance name, so
// the endpoint survives daemon restarts without persisted allocation state.
func SSHForwardPort(name string) int {
	sum := sha256.Sum256([]byte(name))
	return 32768 + (int(sum[0])<<8|int(sum[1]))%16384
}

// checkForwardPort fails early when the derived port is already taken.
func checkForwardPort(name string) error {
	port := SSHForwardPort(name)
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("ssh forward port %d for instance %q is unavailable: %w", port, name, err)
	}
	return l.Close()
}

// managementMAC returns the MAC for the instance's management interface,
// deterministic from the name unless already recorded.
func managementMAC(desc *v1alpha1.VirtualMachine) string {
	if desc.Status.MACAddress != "" {
		return desc.Status.MACAddress
	}
	return naming.MACFromName(desc.Name)
}

// extraMAC returns the MAC for an extra bridged interface, pinned by the
// spec or deterministic from instance name and host interface ID.
func extraMAC(desc *v1alpha1.VirtualMachine, spec v1alpha1.NetworkSpec) string {
	if spec.MACAddress != "" {
		return spec.MACAddress
	}
	return naming.MACFromName(desc.Name + "-" + spec.ID)
}

// snapshotExists reports whether the overlay carries the suspend snapshot,
// by scanning `qemu-img snapshot -l` output for its tag.
func snapshotExists(bootDisk string) bool {
	out, err := exec.Command("qemu-img", "snapshot", "-l", bootDisk).Output()
	if err != nil {
		return false
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[1] == suspendTag {
			return true
		}
	}
	return false
}
