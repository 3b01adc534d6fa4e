package domain

import "fmt"

// TriggerState is the persisted lifecycle state of a trigger.
type TriggerState int

// Wire codes are fixed; documents written by earlier deployments use them.
const (
	StateWaiting   TriggerState = 0
	StateAcquired  TriggerState = 1
	StateExecuting TriggerState = 2
	StateCompleted TriggerState = 3
	StateError     TriggerState = 7
)

func (s TriggerState) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateAcquired:
		return "ACQUIRED"
	case StateExecuting:
		return "EXECUTING"
	case StateCompleted:
		return "COMPLETED"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("TriggerState(%d)", int(s))
	}
}

// Valid reports whether s is one of the known states.
func (s TriggerState) Valid() bool {
	switch s {
	case StateWaiting, StateAcquired, StateExecuting, StateCompleted, StateError:
		return true
	}
	return false
}

// Event drives a trigger from one state to the next.
type Event int

const (
	EventAcquire Event = iota
	EventFire
	EventRelease
	EventComplete
	// EventFail parks an acquired trigger that can never fire, such as
	// one whose job is gone.
	EventFail
)

func (e Event) String() string {
	switch e {
	case EventAcquire:
		return "acquire"
	case EventFire:
		return "fire"
	case EventRelease:
		return "release"
	case EventComplete:
		return "complete"
	case EventFail:
		return "fail"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Transition returns the state that follows from applying ev to a trigger
// in state from. removed is true when the trigger is deleted instead of
// moved. ok is false when from is not a legal source for ev; callers treat
// that as a stale read and abandon the trigger.
//
// inst is only consulted for EventComplete.
func Transition(from TriggerState, ev Event, inst CompletionInstruction) (to TriggerState, removed, ok bool) {
	switch ev {
	case EventAcquire:
		if from == StateWaiting {
			return StateAcquired, false, true
		}
	case EventFire:
		if from == StateAcquired {
			return StateExecuting, false, true
		}
	case EventRelease:
		if from == StateAcquired {
			return StateWaiting, false, true
		}
	case EventFail:
		if from == StateAcquired {
			return StateError, false, true
		}
	case EventComplete:
		if from != StateExecuting {
			return from, false, false
		}
		switch inst {
		case InstructionNoop, InstructionReExecuteJob:
			return StateWaiting, false, true
		case InstructionSetTriggerComplete, InstructionSetAllJobTriggersComplete:
			return StateCompleted, false, true
		case InstructionSetTriggerError, InstructionSetAllJobTriggersError:
			return StateError, false, true
		case InstructionDeleteTrigger:
			return from, true, true
		}
	}
	return from, false, false
}
