package engine

import "biopatrol/internal/task"

// verdict is the failure classifier's decision for one failed step.
// The engine applies the verdict; the classifier itself never mutates
// anything.
type verdict int

const (
	// verdictSkipAndContinue marks the step's skip_on_failure targets
	// SKIPPED and moves on.
	verdictSkipAndContinue verdict = iota
	// verdictContinue logs the failure and moves on.
	verdictContinue
	// verdictAbort fails the whole task.
	verdictAbort
)

// nonCriticalActions may fail without aborting the task when no skip
// policy applies.
var nonCriticalActions = map[task.Action]bool{
	task.ActionBioScan:     true,
	task.ActionWait:        true,
	task.ActionSpeak:       true,
	task.ActionReturnShelf: true,
}

// classifyFailure evaluates the three outcomes in strict priority order:
// conditional skip beats the non-critical list, which beats abort.
func classifyFailure(step *task.Step) verdict {
	if len(step.SkipOnFailure) > 0 {
		return verdictSkipAndContinue
	}
	if nonCriticalActions[step.Action] {
		return verdictContinue
	}
	return verdictAbort
}

// skipReasonFor picks the operator-facing reason recorded against each
// step skipped because of a failure in step.
func skipReasonFor(step *task.Step) string {
	switch step.Action {
	case task.ActionMoveShelf, task.ActionMoveToLocation:
		return "robot could not move to bedside"
	default:
		return "previous step " + step.StepID + " failed"
	}
}
