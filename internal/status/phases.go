package status

import (
	"context"

	"github.com/containerd/log"

	"github.com/jbweber/crucible/api/v1alpha1"
	"github.com/jbweber/crucible/internal/metadata"
	"github.com/jbweber/crucible/internal/vm"
)

// PhaseFor projects a backend-reported lifecycle state onto the coarse
// status phase.
func PhaseFor(state vm.State) v1alpha1.VMPhase {
	switch state {
	case vm.StateOff, vm.StateSuspended:
		return v1alpha1.VMPhaseStopped
	case vm.StateStarting, vm.StateRestarting:
		return v1alpha1.VMPhaseStarting
	case vm.StateRunning:
		return v1alpha1.VMPhaseRunning
	case vm.StateSuspending, vm.StateDelayedShutdown:
		return v1alpha1.VMPhaseStopping
	default:
		return v1alpha1.VMPhaseUnknown
	}
}

// Apply writes a state transition into the VM status: the raw state, the
// projected phase, and the Ready condition when the instance leaves the
// running state.
func Apply(desc *v1alpha1.VirtualMachine, state vm.State) {
	desc.Status.State = state.String()
	desc.Status.Phase = PhaseFor(state)

	if state != vm.StateRunning {
		MarkNotReady(desc, "NotRunning", "Instance is "+state.String())
	}
}

// Recorder persists state transitions to the instance record store. It is
// handed to backends as their status monitor, so every transition hits disk
// before the operation that caused it returns.
type Recorder struct {
	store *metadata.Store
}

// NewRecorder builds a recorder over the given record store.
func NewRecorder(store *metadata.Store) *Recorder {
	return &Recorder{store: store}
}

// StateChanged implements vm.StatusMonitor. A record that cannot be loaded
// or saved is logged rather than failing the transition: the instance's
// in-memory state is already correct, and the record catches up on the next
// transition.
func (r *Recorder) StateChanged(name string, state vm.State) {
	desc, err := r.store.Load(name)
	if err != nil {
		log.G(context.Background()).WithError(err).WithField("instance", name).
			Warn("state change not recorded: record unavailable")
		return
	}

	Apply(desc, state)

	if err := r.store.Save(desc); err != nil {
		log.G(context.Background()).WithError(err).WithField("instance", name).
			Warn("state change not recorded: save failed")
	}
}
