package libvirt

import (
	"fmt"

	golibvirt "github.com/digitalocean/go-libvirt"
)

// mockClient implements the client interface with configurable function
// fields. Unset methods fail loudly so tests only exercise what they mean
// to.
type mockClient struct {
	domainLookupByNameFunc        func(name string) (golibvirt.Domain, error)
	domainDefineXMLFunc           func(xml string) (golibvirt.Domain, error)
	domainCreateFunc              func(dom golibvirt.Domain) error
	domainGetStateFunc            func(dom golibvirt.Domain, flags uint32) (int32, int32, error)
	domainShutdownFunc            func(dom golibvirt.Domain) error
	domainDestroyFunc             func(dom golibvirt.Domain) error
	domainManagedSaveFunc         func(dom golibvirt.Domain, flags uint32) error
	domainHasManagedSaveImageFunc func(dom golibvirt.Domain, flags uint32) (int32, error)
	domainUndefineFlagsFunc       func(dom golibvirt.Domain, flags golibvirt.DomainUndefineFlagsValues) error
	domainInterfaceAddressesFunc  func(dom golibvirt.Domain, source uint32, flags uint32) ([]golibvirt.DomainInterface, error)
	networkLookupByNameFunc       func(name string) (golibvirt.Network, error)
	networkCreateXMLFunc          func(xml string) (golibvirt.Network, error)
	networkGetXMLDescFunc         func(net golibvirt.Network, flags uint32) (string, error)
}

func (m *mockClient) DomainLookupByName(name string) (golibvirt.Domain, error) {
	if m.domainLookupByNameFunc == nil {
		return golibvirt.Domain{}, fmt.Errorf("unexpected call to DomainLookupByName")
	}
	return m.domainLookupByNameFunc(name)
}

func (m *mockClient) DomainDefineXML(xml string) (golibvirt.Domain, error) {
	if m.domainDefineXMLFunc == nil {
		return golibvirt.Domain{}, fmt.Errorf("unexpected call to DomainDefineXML")
	}
	return m.domainDefineXMLFunc(xml)
}

func (m *mockClient) DomainCreate(dom golibvirt.Domain) error {
	if m.domainCreateFunc == nil {
		return fmt.Errorf("unexpected call to DomainCreate")
	}
	return m.domainCreateFunc(dom)
}

func (m *mockClient) DomainGetState(dom golibvirt.Domain, flags uint32) (int32, int32, error) {
	if m.domainGetStateFunc == nil {
		return 0, 0, fmt.Errorf("unexpected call to DomainGetState")
	}
	return m.domainGetStateFunc(dom, flags)
}

func (m *mockClient) DomainShutdown(dom golibvirt.Domain) error {
	if m.domainShutdownFunc == nil {
		return fmt.Errorf("unexpected call to DomainShutdown")
	}
	return m.domainShutdownFunc(dom)
}

func (m *mockClient) DomainDestroy(dom golibvirt.Domain) error {
	if m.domainDestroyFunc == nil {
		return fmt.Errorf("unexpected call to DomainDestroy")
	}
	return m.domainDestroyFunc(dom)
}

func (m *mockClient) DomainManagedSave(dom golibvirt.Domain, flags uint32) error {
	if m.domainManagedSaveFunc == nil {
		return fmt.Errorf("unexpected call to DomainManagedSave")
	}
	return m.domainManagedSaveFunc(dom, flags)
}

func (m *mockClient) DomainHasManagedSaveImage(dom golibvirt.Domain, flags uint32) (int32, error) {
	if m.domainHasManagedSaveImageFunc == nil {
		return 0, fmt.Errorf("unexpected call to DomainHasManagedSaveImage")
	}
	return m.domainHasManagedSaveImageFunc(dom, flags)
}

func (m *mockClient) DomainUndefineFlags(dom golibvirt.Domain, flags golibvirt.DomainUndefineFlagsValues) error {
	if m.domainUndefineFlagsFunc == nil {
		return fmt.Errorf("unexpected call to DomainUndefineFlags")
	}
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockClient) DomainInterfaceAddresses(dom golibvirt.Domain, source uint32, flags uint32) ([]golibvirt.DomainInterface, error) {
	if m.domainInterfaceAddressesFunc == nil {
		return nil, fmt.Errorf("unexpected call to DomainInterfaceAddresses")
	}
	return m.domainInterfaceAddressesFunc(dom, source, flags)
}

func (m *mockClient) NetworkLookupByName(name string) (golibvirt.Network, error) {
	if m.networkLookupByNameFunc == nil {
		return golibvirt.Network{}, fmt.Errorf("unexpected call to NetworkLookupByName")
	}
	return m.networkLookupByNameFunc(name)
}

func (m *mockClient) NetworkCreateXML(xml string) (golibvirt.Network, error) {
	if m.networkCreateXMLFunc == nil {
		return golibvirt.Network{}, fmt.Errorf("unexpected call to NetworkCreateXML")
	}
	return m.networkCreateXMLFunc(xml)
}

func (m *mockClient) NetworkGetXMLDesc(net golibvirt.Network, flags uint32) (string, error) {
	if m.networkGetXMLDescFunc == nil {
		return "", fmt.Errorf("unexpected call to NetworkGetXMLDesc")
	}
	return m.networkGetXMLDescFunc(net, flags)
}
