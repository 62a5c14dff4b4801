package models

// Pipeline stages as they appear in the API JSON.
const (
	StageNotStarted       = "not_started"
	StagePlanning         = "planning"
	StageCoding           = "coding"
	StageReviewing        = "reviewing"
	StageTesting          = "testing"
	StageEvaluating       = "evaluating"
	StageCompleted        = "completed"
	StageFailed           = "failed"
	StageAwaitingApproval = "awaiting_approval"
)

// DefaultRunListLimit caps ?limit= on GET /api/runs.
const DefaultRunListLimit = 200
