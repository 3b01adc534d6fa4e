package domain

import "fmt"

// CompletionInstruction tells the store how to finalize a trigger after
// its job ran.
type CompletionInstruction int

const (
	InstructionNoop CompletionInstruction = iota
	InstructionReExecuteJob
	InstructionSetTriggerComplete
	InstructionDeleteTrigger
	InstructionSetAllJobTriggersComplete
	InstructionSetTriggerError
	InstructionSetAllJobTriggersError
)

func (i CompletionInstruction) String() string {
	switch i {
	case InstructionNoop:
		return "NOOP"
	case InstructionReExecuteJob:
		return "RE_EXECUTE_JOB"
	case InstructionSetTriggerComplete:
		return "SET_TRIGGER_COMPLETE"
	case InstructionDeleteTrigger:
		return "DELETE_TRIGGER"
	case InstructionSetAllJobTriggersComplete:
		return "SET_ALL_JOB_TRIGGERS_COMPLETE"
	case InstructionSetTriggerError:
		return "SET_TRIGGER_ERROR"
	case InstructionSetAllJobTriggersError:
		return "SET_ALL_JOB_TRIGGERS_ERROR"
	default:
		return fmt.Sprintf("CompletionInstruction(%d)", int(i))
	}
}

// JobWide reports whether the instruction applies to every trigger of the
// job rather than only the one that fired.
func (i CompletionInstruction) JobWide() bool {
	return i == InstructionSetAllJobTriggersComplete || i == InstructionSetAllJobTriggersError
}
