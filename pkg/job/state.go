package job

import (
	"errors"
	"fmt"
)

// State is a job's lifecycle position. Transitions only move forward.
type State int

const (
	Pending State = iota
	Running
	Success
	Failed
	AllowedFailure
)

var stateNames = [...]string{"pending", "running", "success", "failed", "allowed_failure"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Success || s == Failed || s == AllowedFailure
}

// ErrInvalidTransition is returned for a transition the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid job state transition")

var transitions = map[State][]State{
	Pending: {Running},
	Running: {Success, Failed, AllowedFailure},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
