package mergereq

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a trigger is not allowed in the
// current state of a merge request.
var ErrInvalidTransition = errors.New("invalid state transition")

// State is the lifecycle state of a merge request.
type State uint8

const (
	StateUndefined State = iota
	StatePending
	StateApproved
	StateBuildError
	StateBuildFailed
	StateBuildPassed
	StateMergeFailed
	StateMergePassed
	StateFfwdFailed
)

var stateStr = [...]string{
	StateUndefined:   "undefined",
	StatePending:     "pending",
	StateApproved:    "approved",
	StateBuildError:  "build_error",
	StateBuildFailed: "build_failed",
	StateBuildPassed: "build_passed",
	StateMergeFailed: "merge_failed",
	StateMergePassed: "merge_passed",
	StateFfwdFailed:  "ffwd_failed",
}

func (s State) String() string {
	if int(s) > len(stateStr)-1 {
		return fmt.Sprintf("unsupported State value: %d", s)
	}

	return stateStr[s]
}

// IsTerminal returns true if no build or merge attempt follows the state
// without human interaction.
func (s State) IsTerminal() bool {
	switch s {
	case StateBuildError, StateBuildFailed, StateMergeFailed, StateMergePassed, StateFfwdFailed:
		return true
	default:
		return false
	}
}

// Trigger is an occurrence that causes a state transition.
type Trigger uint8

const (
	TriggerUndefined Trigger = iota
	TriggerApprove
	TriggerUnapprove
	TriggerPush
	TriggerBuildPassed
	TriggerBuildFailed
	TriggerBuildError
	TriggerMergePassed
	TriggerMergeFailed
	TriggerFfwdFailed
)

var triggerStr = [...]string{
	TriggerUndefined:   "undefined",
	TriggerApprove:     "approve",
	TriggerUnapprove:   "unapprove",
	TriggerPush:        "push",
	TriggerBuildPassed: "build_passed",
	TriggerBuildFailed: "build_failed",
	TriggerBuildError:  "build_error",
	TriggerMergePassed: "merge_passed",
	TriggerMergeFailed: "merge_failed",
	TriggerFfwdFailed:  "ffwd_failed",
}

func (t Trigger) String() string {
	if int(t) > len(triggerStr)-1 {
		return fmt.Sprintf("unsupported Trigger value: %d", t)
	}

	return triggerStr[t]
}

// Transition returns the state that follows from when trigger happens.
// If the transition is not allowed, ErrInvalidTransition is returned.
func Transition(from State, trigger Trigger) (State, error) {
	if from == StateUndefined || int(from) > len(stateStr)-1 {
		return StateUndefined, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, trigger, from)
	}

	switch trigger {
	case TriggerApprove:
		switch from {
		case StatePending, StateBuildError, StateBuildFailed, StateMergeFailed:
			return StateApproved, nil
		}

	case TriggerUnapprove:
		if from == StateApproved {
			return StatePending, nil
		}

	case TriggerPush:
		// a merged request has no source branch anymore that could change
		if from != StateMergePassed {
			return StatePending, nil
		}

	case TriggerBuildPassed:
		if from == StateApproved {
			return StateBuildPassed, nil
		}

	case TriggerBuildFailed:
		if from == StateApproved {
			return StateBuildFailed, nil
		}

	case TriggerBuildError:
		if from == StateApproved {
			return StateBuildError, nil
		}

	case TriggerMergePassed:
		if from == StateBuildPassed {
			return StateMergePassed, nil
		}

	case TriggerMergeFailed:
		if from == StateBuildPassed {
			return StateMergeFailed, nil
		}

	case TriggerFfwdFailed:
		if from == StateBuildPassed {
			return StateFfwdFailed, nil
		}
	}

	return StateUndefined, fmt.Errorf("%w: %s in state %s", ErrInvalidTransition, trigger, from)
}
