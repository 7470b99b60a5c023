package vm

// State is the lifecycle state of an instance.
//
// States change only through the transitions the contract defines; backends
// reconcile against hypervisor-reported status via UpdateState, since state
// can change outside this process (direct hypervisor interaction, host
// reboot).
type State int

const (
	// StateOff means the instance exists but is not running.
	StateOff State = iota

	// StateStarting means a start was requested and boot is in progress.
	StateStarting

	// StateRunning means the backend acknowledged the instance as running.
	StateRunning

	// StateRestarting means the instance is going down to come back up.
	StateRestarting

	// StateSuspending means a state-save is in progress.
	StateSuspending

	// StateSuspended means the instance state is saved to disk.
	StateSuspended

	// StateDelayedShutdown means a shutdown is scheduled but not yet begun.
	StateDelayedShutdown

	// StateUnknown means the backend could not report a state.
	StateUnknown
)

var stateNames = map[State]string{
	StateOff:             "off",
	StateStarting:        "starting",
	StateRunning:         "running",
	StateRestarting:      "restarting",
	StateSuspending:      "suspending",
	StateSuspended:       "suspended",
	StateDelayedShutdown: "delayed_shutdown",
	StateUnknown:         "unknown",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseState maps a persisted state name back to a State. Unrecognized names
// come back as StateUnknown, which UpdateState later reconciles.
func ParseState(name string) State {
	for state, n := range stateNames {
		if n == name {
			return state
		}
	}
	return StateUnknown
}

// CanStart reports whether Start is a valid transition from s.
func (s State) CanStart() bool {
	return s == StateOff || s == StateSuspended
}

// CanStop reports whether Stop/Shutdown is a valid transition from s.
func (s State) CanStop() bool {
	return s == StateRunning || s == StateStarting || s == StateDelayedShutdown
}

// CanSuspend reports whether Suspend is a valid transition from s.
func (s State) CanSuspend() bool {
	return s == StateRunning
}
