// Package platform resolves which hypervisor backend a daemon run uses and
// builds the matching factory. The driver is resolved exactly once at
// startup from persisted settings; everything downstream works against the
// vm.Factory and vm.VirtualMachine contracts and never sees a concrete
// backend type.
package platform

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/containerd/log"

	"github.com/jbweber/crucible/internal/settings"
	"github.com/jbweber/crucible/internal/vm"
	"github.com/jbweber/crucible/internal/vm/libvirt"
	"github.com/jbweber/crucible/internal/vm/lxd"
	"github.com/jbweber/crucible/internal/vm/qemu"
)

// Driver identifies a hypervisor backend.
type Driver string

const (
	// DriverQEMU runs instances as host qemu processes.
	DriverQEMU Driver = "qemu"

	// DriverLibvirt manages instances as libvirt domains.
	DriverLibvirt Driver = "libvirt"

	// DriverLXD manages instances through the LXD API.
	DriverLXD Driver = "lxd"

	// DriverUnsupported is returned for drivers this host cannot run.
	DriverUnsupported Driver = "unsupported"
)

// DefaultDriver is selected when the driver setting is empty.
const DefaultDriver = DriverQEMU

// EnvDriverOverride is read at resolution time and deliberately not
// honored: only persisted settings select the backend, so the ambient
// environment cannot silently switch hypervisors between runs.
const EnvDriverOverride = "CRUCIBLE_VM_DRIVER"

// Resolve maps the configured driver setting to a Driver. Empty input
// selects the platform default; matching is case-insensitive. Unknown
// values fail with a settings validation error, which is a configuration
// problem and distinct from a backend that fails to come up.
func Resolve(configured string) (Driver, error) {
	if override := os.Getenv(EnvDriverOverride); override != "" {
		log.G(context.Background()).WithField(EnvDriverOverride, override).
			Debug("driver override environment variable is ignored; set the driver in settings")
	}

	name := strings.ToLower(strings.TrimSpace(configured))
	if name == "" {
		return DefaultDriver, nil
	}

	switch Driver(name) {
	case DriverQEMU, DriverLibvirt, DriverLXD:
		return Driver(name), nil
	}

	return DriverUnsupported, &settings.InvalidSettingError{
		Key:    settings.DriverKey,
		Value:  configured,
		Reason: "unsupported driver on this platform",
	}
}

// BackendInitError reports a backend whose native connection could not be
// established at factory construction time.
type BackendInitError struct {
	// Driver names the backend that failed.
	Driver Driver

	// Err is the underlying native error.
	Err error
}

func (e *BackendInitError) Error() string {
	return fmt.Sprintf("failed to initialize %s backend: %v", e.Driver, e.Err)
}

func (e *BackendInitError) Unwrap() error { return e.Err }

// NewBackend builds the factory for the resolved driver. backendPath is the
// storage path handed to the backend for its instance artifacts. Native
// connection failures surface as BackendInitError.
func NewBackend(ctx context.Context, driver Driver, backendPath string) (vm.Factory, error) {
	var (
		factory vm.Factory
		err     error
	)

	switch driver {
	case DriverQEMU:
		factory, err = qemu.NewFactory(ctx, backendPath)
	case DriverLibvirt:
		factory, err = libvirt.NewFactory(ctx, backendPath)
	case DriverLXD:
		factory, err = lxd.NewFactory(ctx, backendPath)
	default:
		return nil, &BackendInitError{Driver: driver, Err: fmt.Errorf("no factory for driver")}
	}

	if err != nil {
		return nil, &BackendInitError{Driver: driver, Err: err}
	}
	return factory, nil
}
