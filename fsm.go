package stage

import (
	"fmt"
	"sync/atomic"

	"github.com/samber/lo"
)

// RoleState represents the current state of a role in its lifecycle
type RoleState int32

const (
	StateCreated RoleState = iota
	StateInitializing
	StateWaitingToStart
	StateRunning
	StateTerminating
	StateTerminated
)

// String returns a human-readable representation of the role state
func (s RoleState) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateInitializing:
		return "Initializing"
	case StateWaitingToStart:
		return "WaitingToStart"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// A role that fails Init goes straight to Terminated. A role that is stopped
// before it ran skips Running. Terminated is final.
var roleTransitions = map[RoleState][]RoleState{
	StateCreated:        {StateInitializing},
	StateInitializing:   {StateWaitingToStart, StateTerminated},
	StateWaitingToStart: {StateRunning, StateTerminating},
	StateRunning:        {StateTerminating},
	StateTerminating:    {StateTerminated},
}

type fsm struct {
	state atomic.Int32
}

func (fsm *fsm) getState() RoleState {
	return RoleState(fsm.state.Load())
}

// transition moves from one state to another. It fails if the edge is not
// in roleTransitions or if the current state is no longer from.
func (fsm *fsm) transition(from, to RoleState) error {
	if !lo.Contains(roleTransitions[from], to) {
		return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
	}
	if !fsm.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s to %s while %s", ErrInvalidTransition, from, to, fsm.getState())
	}
	return nil
}
