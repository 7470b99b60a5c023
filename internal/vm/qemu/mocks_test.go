package qemu

import (
	"context"
	"fmt"
	"sync/atomic"
)

// mockQMP implements monitorClient with configurable function fields. Unset
// methods fail loudly so tests only exercise what they mean to; Close is
// always permitted and counted.
type mockQMP struct {
	systemPowerdownFunc func(ctx context.Context) error
	quitFunc            func(ctx context.Context) error
	queryStatusFunc     func(ctx context.Context) (string, error)
	saveVMFunc          func(ctx context.Context, tag string) error
	delVMFunc           func(ctx context.Context, tag string) error

	closeCalls atomic.Int32
}

func (m *mockQMP) SystemPowerdown(ctx context.Context) error {
	if m.systemPowerdownFunc == nil {
		return fmt.Errorf("unexpected call to SystemPowerdown")
	}
	return m.systemPowerdownFunc(ctx)
}

func (m *mockQMP) Quit(ctx context.Context) error {
	if m.quitFunc == nil {
		return fmt.Errorf("unexpected call to Quit")
	}
	return m.quitFunc(ctx)
}

func (m *mockQMP) QueryStatus(ctx context.Context) (string, error) {
	if m.queryStatusFunc == nil {
		return "", fmt.Errorf("unexpected call to QueryStatus")
	}
	return m.queryStatusFunc(ctx)
}

func (m *mockQMP) SaveVM(ctx context.Context, tag string) error {
	if m.saveVMFunc == nil {
		return fmt.Errorf("unexpected call to SaveVM")
	}
	return m.saveVMFunc(ctx, tag)
}

func (m *mockQMP) DelVM(ctx context.Context, tag string) error {
	if m.delVMFunc == nil {
		return fmt.Errorf("unexpected call to DelVM")
	}
	return m.delVMFunc(ctx, tag)
}

func (m *mockQMP) Close() error {
	m.closeCalls.Add(1)
	return nil
}
