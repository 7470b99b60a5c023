package lxd

import (
	"fmt"

	"github.com/canonical/lxd/shared/api"
)

// mockClient implements the client interface with configurable function
// fields. Unset methods fail loudly so tests only exercise what they mean
// to.
type mockClient struct {
	createInstanceFunc      func(req api.InstancesPost) error
	updateInstanceStateFunc func(name string, req api.InstanceStatePut, etag string) error
	getInstanceFunc         func(name string) (*api.Instance, string, error)
	getInstanceStateFunc    func(name string) (*api.InstanceState, string, error)
	deleteInstanceFunc      func(name string) error
	getNetworkFunc          func(name string) (*api.Network, string, error)
	createNetworkFunc       func(req api.NetworksPost) error
}

func (m *mockClient) CreateInstance(req api.InstancesPost) error {
	if m.createInstanceFunc == nil {
		return fmt.Errorf("unexpected call to CreateInstance")
	}
	return m.createInstanceFunc(req)
}

func (m *mockClient) UpdateInstanceState(name string, req api.InstanceStatePut, etag string) error {
	if m.updateInstanceStateFunc == nil {
		return fmt.Errorf("unexpected call to UpdateInstanceState")
	}
	return m.updateInstanceStateFunc(name, req, etag)
}

func (m *mockClient) GetInstance(name string) (*api.Instance, string, error) {
	if m.getInstanceFunc == nil {
		return nil, "", fmt.Errorf("unexpected call to GetInstance")
	}
	return m.getInstanceFunc(name)
}

func (m *mockClient) GetInstanceState(name string) (*api.InstanceState, string, error) {
	if m.getInstanceStateFunc == nil {
		return nil, "", fmt.Errorf("unexpected call to GetInstanceState")
	}
	return m.getInstanceStateFunc(name)
}

func (m *mockClient) DeleteInstance(name string) error {
	if m.deleteInstanceFunc == nil {
		return fmt.Errorf("unexpected call to DeleteInstance")
	}
	return m.deleteInstanceFunc(name)
}

func (m *mockClient) GetNetwork(name string) (*api.Network, string, error) {
	if m.getNetworkFunc == nil {
		return nil, "", fmt.Errorf("unexpected call to GetNetwork")
	}
	return m.getNetworkFunc(name)
}

func (m *mockClient) CreateNetwork(req api.NetworksPost) error {
	if m.createNetworkFunc == nil {
		return fmt.Errorf("unexpected call to CreateNetwork")
	}
	return m.createNetworkFunc(req)
}
