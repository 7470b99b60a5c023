// Package lxd implements the hypervisor backend that drives LXD virtual
// machines through the local daemon's REST API. LXD owns instance storage
// and imaging; the backend translates lifecycle calls into instance state
// actions and waits on the resulting operations.
package lxd

import (
	"fmt"

	lxdclient "github.com/canonical/lxd/client"
	"github.com/canonical/lxd/shared/api"
)

// client is the slice of the LXD API the backend drives. Operations are
// waited on inside the implementation so callers see plain errors. Tests
// substitute mocks.
type client interface {
	CreateInstance(req api.InstancesPost) error
	UpdateInstanceState(name string, req api.InstanceStatePut, etag string) error
	GetInstance(name string) (*api.Instance, string, error)
	GetInstanceState(name string) (*api.InstanceState, string, error)
	DeleteInstance(name string) error
	GetNetwork(name string) (*api.Network, string, error)
	CreateNetwork(req api.NetworksPost) error
}

// serverClient adapts an InstanceServer to the client interface, folding
// each operation's Wait into the call.
type serverClient struct {
	srv lxdclient.InstanceServer
}

func (c *serverClient) CreateInstance(req api.InstancesPost) error {
	op, err := c.srv.CreateInstance(req)
	if err != nil {
		return err
	}
	return op.Wait()
}

func (c *serverClient) UpdateInstanceState(name string, req api.InstanceStatePut, etag string) error {
	op, err := c.srv.UpdateInstanceState(name, req, etag)
	if err != nil {
		return err
	}
	return op.Wait()
}

func (c *serverClient) GetInstance(name string) (*api.Instance, string, error) {
	return c.srv.GetInstance(name)
}

func (c *serverClient) GetInstanceState(name string) (*api.InstanceState, string, error) {
	return c.srv.GetInstanceState(name)
}

func (c *serverClient) DeleteInstance(name string) error {
	op, err := c.srv.DeleteInstance(name)
	if err != nil {
		return err
	}
	return op.Wait()
}

func (c *serverClient) GetNetwork(name string) (*api.Network, string, error) {
	return c.srv.GetNetwork(name)
}

func (c *serverClient) CreateNetwork(req api.NetworksPost) error {
	return c.srv.CreateNetwork(req)
}

// connect dials the local LXD daemon over its unix socket. An empty path
// lets the client library resolve the conventional locations (including the
// snap socket).
func connect(socketPath string) (lxdclient.InstanceServer, error) {
	srv, err := lxdclient.ConnectLXDUnix(socketPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to LXD daemon: %w", err)
	}
	return srv, nil
}
