package tester

import "fmt"

// State is one phase of the testing loop.
type State string

const (
	StateScanning    State = "scanning"
	StateTeleporting State = "teleporting"
	StateExecuting   State = "executing"
	StateReporting   State = "reporting"
	StateCompleted   State = "completed"
	StateError       State = "error"
)

// transitions maps each state to the states its handler may produce.
// StateError is reachable from anywhere and is therefore not listed.
// Teleporting may skip straight to Reporting when the owning node cannot
// be reached and the idea's cases are failed wholesale.
var transitions = map[State][]State{
	StateScanning:    {StateTeleporting, StateCompleted},
	StateTeleporting: {StateExecuting, StateReporting},
	StateExecuting:   {StateReporting},
	StateReporting:   {StateScanning},
	StateCompleted:   {},
	StateError:       {},
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
		return fmt.Errorf("tester: illegal transition %s -> %s", from, to)
	}
	return nil
}
