package swarm

// Swarm lifecycle states. UNINITIALIZED is the only initial state;
// COMPLETED, FAILED and CANCELED are terminal.
const (
	StateUninitialized = "UNINITIALIZED"
	StateInitializing  = "INITIALIZING"
	StateActive        = "ACTIVE"
	StatePaused        = "PAUSED"
	StateCompleting    = "COMPLETING"
	StateCompleted     = "COMPLETED"
	StateFailed        = "FAILED"
	StateCanceled      = "CANCELED"
)

// transitions is the closed edge set of the lifecycle graph. Cancellation
// edges are handled separately: any non-terminal state may move to CANCELED,
// and any non-terminal state may move to FAILED.
var transitions = map[string][]string{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateActive},
	StateActive:        {StatePaused, StateCompleting},
	StatePaused:        {StateActive},
	StateCompleting:    {StateCompleted},
}

// Terminal reports whether no further transitions are accepted from state.
func Terminal(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCanceled:
		return true
	}
	return false
}

// CanTransition reports whether from → to is a legal lifecycle edge.
func CanTransition(from, to string) bool {
	if Terminal(from) {
		return false
	}
	if to == StateCanceled || to == StateFailed {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
