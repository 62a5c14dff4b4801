// Package pipeline is the control plane for one automated code-change
// run: a fixed stage sequence driven by per-stage agents, a risk gate
// that can pause the run for human approval after planning, and a
// bounded revision loop between coding and reviewing.
package pipeline

// Stage is one named phase of a pipeline run. The set is closed: five
// agent stages executed in order (with the coding<->reviewing revision
// loop as the only deviation) plus three terminal or paused markers.
type Stage string

const (
	StageNotStarted Stage = "not_started"
	StagePlanning   Stage = "planning"
	StageCoding     Stage = "coding"
	StageReviewing  Stage = "reviewing"
	StageTesting    Stage = "testing"
	StageEvaluating Stage = "evaluating"

	StageCompleted        Stage = "completed"
	StageFailed           Stage = "failed"
	StageAwaitingApproval Stage = "awaiting_approval"
)

// AgentStages lists the stages that are driven by an Agent, in execution
// order. The orchestrator requires exactly one Agent binding per entry.
func AgentStages() []Stage {
	return []Stage{StagePlanning, StageCoding, StageReviewing, StageTesting, StageEvaluating}
}

// Terminal reports whether the stage ends or pauses a run. A context in a
// terminal stage is read-only.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageAwaitingApproval:
		return true
	}
	return false
}

// agentStageIndex maps an agent stage to its slot in the per-stage output
// table; -1 for stages that never produce an artifact.
func agentStageIndex(s Stage) int {
	switch s {
	case StagePlanning:
		return 0
	case StageCoding:
		return 1
	case StageReviewing:
		return 2
	case StageTesting:
		return 3
	case StageEvaluating:
		return 4
	}
	return -1
}

const numAgentStages = 5
