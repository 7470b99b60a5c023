// Package libvirt implements the libvirt hypervisor backend. Instances are
// libvirt domains defined over qcow2 overlays on the storage path, attached
// to a dedicated NAT network for management traffic. Suspend maps to
// libvirt managed save.
package libvirt

import (
	"fmt"
	"time"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// DefaultSocketPath is the local libvirt daemon socket (qemu:///system).
const DefaultSocketPath = "/var/run/libvirt/libvirt-sock"

// connectTimeout bounds the initial socket dial.
const connectTimeout = 5 * time.Second

// client defines the libvirt operations the backend uses. In production it
// is satisfied by *libvirt.Libvirt directly; tests substitute mocks.
type client interface {
	// DomainLookupByName looks up a domain by name.
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainDefineXML defines a persistent domain from XML.
	DomainDefineXML(xml string) (libvirt.Domain, error)

	// DomainCreate starts a defined domain, resuming from a managed save
	// image when one exists.
	DomainCreate(dom libvirt.Domain) error

	// DomainGetState gets the state of a domain.
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// DomainShutdown requests a graceful guest shutdown.
	DomainShutdown(dom libvirt.Domain) error

	// DomainDestroy force-stops a domain.
	DomainDestroy(dom libvirt.Domain) error

	// DomainManagedSave saves domain state to disk and stops it.
	DomainManagedSave(dom libvirt.Domain, flags uint32) error

	// DomainHasManagedSaveImage reports whether a managed save image exists.
	DomainHasManagedSaveImage(dom libvirt.Domain, flags uint32) (int32, error)

	// DomainUndefineFlags undefines a domain with cleanup flags.
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error

	// DomainInterfaceAddresses reports the addresses on a running domain's
	// interfaces.
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)

	// NetworkLookupByName looks up a libvirt network by name.
	NetworkLookupByName(name string) (libvirt.Network, error)

	// NetworkCreateXML creates and starts a transient network.
	NetworkCreateXML(xml string) (libvirt.Network, error)

	// NetworkGetXMLDesc returns the live XML of a network.
	NetworkGetXMLDesc(net libvirt.Network, flags uint32) (string, error)
}

// connect establishes the local libvirt connection the factory owns.
func connect(socketPath string) (*libvirt.Libvirt, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	dialer := dialers.NewLocal(
		dialers.WithSocket(socketPath),
		dialers.WithLocalTimeout(connectTimeout),
	)

	l := libvirt.NewWithDialer(dialer)
	if err := l.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to libvirt at %s: %w", socketPath, err)
	}
	return l, nil
}
