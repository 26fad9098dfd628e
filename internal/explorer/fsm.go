// Package explorer drives the autonomous exploration loop. The loop is an
// explicit finite state machine: each state has a handler that performs
// one unit of work and names the next state, and the transition table
// rejects anything the handlers should never produce.
package explorer

import "fmt"

// State is one phase of the exploration loop.
type State string

const (
	StateLocating     State = "locating"
	StateAnalyzing    State = "analyzing"
	StateDeciding     State = "deciding"
	StateActing       State = "acting"
	StateReflecting   State = "reflecting"
	StateBacktracking State = "backtracking"
	StateCompleted    State = "completed"
	StateError        State = "error"
)

// transitions maps each state to the states its handler may produce.
// StateError is reachable from anywhere and is therefore not listed.
var transitions = map[State][]State{
	StateLocating:     {StateAnalyzing, StateDeciding, StateBacktracking, StateCompleted},
	StateAnalyzing:    {StateDeciding},
	StateDeciding:     {StateActing, StateBacktracking},
	StateActing:       {StateReflecting, StateDeciding},
	StateReflecting:   {StateLocating, StateDeciding},
	StateBacktracking: {StateDeciding, StateLocating, StateCompleted},
	StateCompleted:    {},
	StateError:        {},
}

// ValidTransition reports whether the machine may move from one state to
// another. Any state may fail into StateError.
func ValidTransition(from, to State) bool {
	if to == StateError {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition is the loop's guard against handler bugs.
func checkTransition(from, to State) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("explorer: illegal transition %s -> %s", from, to)
	}
	return nil
}
