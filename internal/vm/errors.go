package vm

import (
	"errors"
	"fmt"
	"time"
)

// ErrSuspendUnsupported is returned by Suspend on backends without
// state-save support. The instance state is left unchanged.
var ErrSuspendUnsupported = errors.New("suspend is not supported by this driver")

// LifecycleError reports an invalid transition for the current state, or a
// native hypervisor call that failed. After a native failure the local state
// is reconciled via UpdateState, not guessed.
type LifecycleError struct {
	// Instance is the instance name.
	Instance string

	// Op is the lifecycle operation that failed (start, stop, suspend, ...).
	Op string

	// State is the instance state at the time of the failure.
	State State

	// Err is the underlying cause, nil for pure transition violations.
	Err error
}

func (e *LifecycleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("instance %q: %s failed in state %s: %v", e.Instance, e.Op, e.State, e.Err)
	}
	return fmt.Sprintf("instance %q: cannot %s while %s", e.Instance, e.Op, e.State)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// ReadinessTimeoutError reports that the SSH readiness probe did not succeed
// within its bound. Recoverable: callers may retry with a fresh timeout.
type ReadinessTimeoutError struct {
	// Instance is the instance name.
	Instance string

	// Timeout is the bound that elapsed.
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("instance %q: ssh did not come up within %s", e.Instance, e.Timeout)
}

func errUnknownNetwork(id string) error {
	return fmt.Errorf("host network %q not found by interface scan", id)
}
