package orchestration

import "fmt"

// State is a node of the phase state machine.
type State string

const (
	StatePending           State = "pending"
	StateRunning           State = "running"
	StateAwaitingConsensus State = "awaiting_consensus"
	StateGating            State = "gating"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
	StateCancelled         State = "cancelled"
)

// IsTerminal returns true if no further transition is allowed.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// transitions lists the forward edges. FAILED and CANCELLED are reachable
// from every non-terminal state and are handled in CanTransition.
var transitions = map[State][]State{
	StatePending:           {StateRunning},
	StateRunning:           {StateAwaitingConsensus},
	StateAwaitingConsensus: {StateGating, StateRunning},
	StateGating:            {StateCompleted, StateRunning},
}

// CanTransition reports whether from → to is a legal edge. The edges back to
// RUNNING model a phase re-entered under its retry budget.
func CanTransition(from, to State) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	if from == StateRunning && to == StateRunning {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine tracks the state of one phase and rejects illegal transitions.
type Machine struct {
	state State
	trail []State
}

// NewMachine returns a machine in the PENDING state.
func NewMachine() *Machine {
	return &Machine{state: StatePending, trail: []State{StatePending}}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Trail returns every state visited, in order.
func (m *Machine) Trail() []State { return append([]State(nil), m.trail...) }

// To moves the machine to the next state.
func (m *Machine) To(next State) error {
	if !CanTransition(m.state, next) {
		return fmt.Errorf("illegal phase transition %s -> %s", m.state, next)
	}
	m.state = next
	m.trail = append(m.trail, next)
	return nil
}

// Status is the outcome surfaced to callers. Queued and running are the
// only non-terminal values.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)
