package controller

import (
	"errors"
	"fmt"
)

// State is the phase of a run.
type State int32

const (
	StateSetup State = iota
	StateRamping
	StateDraining
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSetup:
		return "setup"
	case StateRamping:
		return "ramping"
	case StateDraining:
		return "draining"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

var transitions = map[State][]State{
	StateSetup:    {StateRamping, StateFailed},
	StateRamping:  {StateDraining, StateFailed},
	StateDraining: {StateCompleted, StateFailed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
