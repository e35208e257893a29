package session

// State is the lifecycle state of a Session.
type State int

const (
	// StateUninitialized sessions have no history and must be primed.
	StateUninitialized State = iota
	// StateInitializing sessions have a priming call in flight.
	StateInitializing
	// StateReady sessions accept messages.
	StateReady
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// transitions lists the valid moves out of each state. Any state may fall
// back to uninitialized on reset.
var transitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateReady, StateUninitialized},
	StateReady:         {StateUninitialized},
}

// CanTransition reports whether from -> to is a valid move.
func CanTransition(from, to State) bool {
	for _, state := range transitions[from] {
		if state == to {
			return true
		}
	}
	return false
}
