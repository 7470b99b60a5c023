package vm

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/containerd/log"
)

// Base carries the state machinery shared by every backend VM: the instance
// name, the locally observed state, and the status monitor notified on each
// transition. Backends embed it and drive it through SetState.
type Base struct {
	name    string
	monitor StatusMonitor

	mu    sync.Mutex
	state State
}

// NewBase seeds the shared state for a backend VM. The initial state is off
// for fresh instances, or the backend-reported state when recovering.
func NewBase(name string, initial State, monitor StatusMonitor) Base {
	return Base{
		name:    name,
		monitor: monitor,
		state:   initial,
	}
}

// Name returns the instance name.
func (b *Base) Name() string {
	return b.name
}

// CurrentState returns the last locally observed state.
func (b *Base) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SetState records a transition and notifies the monitor before returning,
// so the update is persisted even if the process dies right after.
func (b *Base) SetState(s State) {
	b.mu.Lock()
	changed := b.state != s
	b.state = s
	b.mu.Unlock()

	if changed && b.monitor != nil {
		b.monitor.StateChanged(b.name, s)
	}
}

// EnsureRunning fails fast unless the instance is running or starting. Used
// as a precondition guard before operations that need a live guest.
func (b *Base) EnsureRunning() error {
	state := b.CurrentState()
	if state == StateRunning || state == StateStarting {
		return nil
	}
	return &LifecycleError{Instance: b.name, Op: "ensure running", State: state}
}

// TransitionError builds the LifecycleError for an operation attempted from
// an invalid state.
func (b *Base) TransitionError(op string) error {
	return &LifecycleError{Instance: b.name, Op: op, State: b.CurrentState()}
}

// NativeError builds the LifecycleError for a failed native hypervisor call.
func (b *Base) NativeError(op string, err error) error {
	return &LifecycleError{Instance: b.name, Op: op, State: b.CurrentState(), Err: err}
}

// Prober checks whether an SSH endpoint answers. The production prober dials
// the guest's sshd; tests substitute fakes.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// probeInterval paces readiness probe attempts.
const probeInterval = time.Second

// AwaitSSH blocks until probe succeeds against hostname:port or timeout
// elapses, in which case it fails with a ReadinessTimeoutError. The first
// probe fires immediately.
func AwaitSSH(ctx context.Context, probe Prober, instance, hostname string, port int, timeout time.Duration) error {
	addr := net.JoinHostPort(hostname, strconv.Itoa(port))
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		err := probe.Probe(attemptCtx, addr)
		cancel()
		if err == nil {
			return nil
		}

		log.G(ctx).WithFields(log.Fields{
			"instance": instance,
			"addr":     addr,
		}).WithError(err).Debug("ssh not up yet")

		if time.Until(deadline) <= 0 {
			return &ReadinessTimeoutError{Instance: instance, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return &ReadinessTimeoutError{Instance: instance, Timeout: timeout}
			}
		}
	}
}
