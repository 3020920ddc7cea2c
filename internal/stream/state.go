// Package stream runs the verdict pipeline for one request and writes its
// progress as ordered NDJSON events. The pipeline is an explicit state
// machine; transitions not in the table are rejected.
package stream

import "fmt"

// State is a pipeline stage.
type State int

const (
	StateStart State = iota
	StateModerating
	StateBlocked
	StateTranslating
	StateGenerating
	StateValidating
	StateSharing
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateStart:       "START",
	StateModerating:  "MODERATING",
	StateBlocked:     "BLOCKED",
	StateTranslating: "TRANSLATING",
	StateGenerating:  "GENERATING",
	StateValidating:  "VALIDATING",
	StateSharing:     "SHARING",
	StateDone:        "DONE",
	StateFailed:      "FAILED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether s ends the pipeline.
func (s State) Terminal() bool {
	return s == StateBlocked || s == StateFailed || s == StateDone
}

var transitions = map[State][]State{
	StateStart:       {StateModerating},
	StateModerating:  {StateBlocked, StateTranslating, StateFailed},
	StateTranslating: {StateGenerating, StateFailed},
	StateGenerating:  {StateValidating, StateFailed},
	StateValidating:  {StateSharing, StateFailed},
	StateSharing:     {StateDone, StateFailed},
}

// Machine tracks the current state of one pipeline run. It is not safe for
// concurrent use.
type Machine struct {
	state State
}

// NewMachine returns a machine in StateStart.
func NewMachine() *Machine {
	return &Machine{state: StateStart}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// To moves to next, or returns an error and stays put if the transition is
// not allowed.
func (m *Machine) To(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("stream: illegal transition %s -> %s", m.state, next)
}
