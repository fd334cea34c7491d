package model

// StateKind represents the lifecycle state of a node.
type StateKind string

const (
	StateWaiting  StateKind = "WAITING"
	StateRunnable StateKind = "RUNNABLE"
	StateRunning  StateKind = "RUNNING"
	StateReturn   StateKind = "RETURN"
	StateThrow    StateKind = "THROW"
	StateNoop     StateKind = "NOOP"
)

// String returns the string representation of the state kind.
func (s StateKind) String() string {
	return string(s)
}

// IsTerminal returns true if the node is in a final state.
func (s StateKind) IsTerminal() bool {
	switch s {
	case StateReturn, StateThrow, StateNoop:
		return true
	}
	return false
}

// ValidTransitions defines the allowed state transitions for nodes.
var ValidTransitions = map[StateKind][]StateKind{
	StateRunnable: {StateRunning, StateThrow},
	StateRunning:  {StateWaiting, StateRunnable, StateReturn, StateThrow, StateNoop},
	StateWaiting:  {StateRunnable, StateThrow},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s StateKind) CanTransitionTo(next StateKind) bool {
	for _, allowed := range ValidTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// State is the current state of a node together with its outcome once the
// node is terminal.
type State struct {
	Kind   StateKind
	Value  any    // set for StateReturn
	Err    error  // set for StateThrow
	Reason string // set for StateNoop
}

// Return builds a successful terminal state.
func Return(v any) State { return State{Kind: StateReturn, Value: v} }

// Throw builds a failed terminal state.
func Throw(err error) State { return State{Kind: StateThrow, Err: err} }

// Noop builds a terminal "no value" state.
func Noop(reason string) State { return State{Kind: StateNoop, Reason: reason} }

// IsTerminal reports whether the state is final.
func (s State) IsTerminal() bool {
	return s.Kind.IsTerminal()
}

// String renders the state kind with its outcome.
func (s State) String() string {
	switch s.Kind {
	case StateReturn:
		return "Return(" + sprint(s.Value) + ")"
	case StateThrow:
		if s.Err == nil {
			return "Throw(<nil>)"
		}
		return "Throw(" + s.Err.Error() + ")"
	case StateNoop:
		return "Noop(" + s.Reason + ")"
	}
	return string(s.Kind)
}
