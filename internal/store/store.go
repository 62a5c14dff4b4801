// Package store defines the persistence interface and shared records for
// pipeline run history. It is built entirely on top of the pipeline's
// terminal Result value; the pipeline core never depends on it.
// Implementations: *sqlite.Store (SQLite) and *postgres.Store (PostgreSQL).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
)

// ErrNotFound is returned when a run ID does not exist.
var ErrNotFound = errors.New("run not found")

// RunRecord is one persisted pipeline run.
type RunRecord struct {
	RunID            string
	Request          string
	FinalStage       string
	Success          bool
	RequiresApproval bool
	ApprovalReason   string
	RevisionCount    int
	TestFailures     int
	Message          string
	Duration         time.Duration
	CreatedAt        time.Time
}

// TransitionRecord is one audit-trail entry of a persisted run, ordered
// by Seq.
type TransitionRecord struct {
	RunID     string
	Seq       int
	FromStage string
	ToStage   string
	At        time.Time
}

// ArtifactRecord is the final output of one agent stage of a persisted run.
type ArtifactRecord struct {
	RunID  string
	Stage  string
	Output string
}

// Store is the persistence interface for run history.
type Store interface {
	SaveRun(ctx context.Context, run RunRecord, transitions []TransitionRecord, artifacts []ArtifactRecord) error
	GetRun(ctx context.Context, runID string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
	ListAwaitingApproval(ctx context.Context) ([]RunRecord, error)
	GetTransitions(ctx context.Context, runID string) ([]TransitionRecord, error)
	GetArtifacts(ctx context.Context, runID string) ([]ArtifactRecord, error)
	// GrantApproval clears the approval block on a stored run. Returns
	// false if the run was not awaiting approval.
	GrantApproval(ctx context.Context, runID string) (bool, error)
	Close() error
}

// FromResult flattens a terminal pipeline Result into storable records.
func FromResult(res pipeline.Result) (RunRecord, []TransitionRecord, []ArtifactRecord) {
	pctx := res.Context
	run := RunRecord{
		RunID:            pctx.RunID,
		Request:          pctx.Request,
		FinalStage:       string(res.Stage),
		Success:          res.Success,
		RequiresApproval: res.RequiresApproval,
		ApprovalReason:   pctx.ApprovalReason,
		RevisionCount:    pctx.RevisionCount,
		TestFailures:     pctx.TestFailures,
		Message:          res.Message,
		Duration:         res.Duration,
		CreatedAt:        pctx.CreatedAt,
	}
	var transitions []TransitionRecord
	for i, tr := range pctx.Trail() {
		transitions = append(transitions, TransitionRecord{
			RunID:     pctx.RunID,
			Seq:       i,
			FromStage: string(tr.From),
			ToStage:   string(tr.To),
			At:        tr.At,
		})
	}
	var artifacts []ArtifactRecord
	for _, stage := range pipeline.AgentStages() {
		if out := pctx.Output(stage); out != "" {
			artifacts = append(artifacts, ArtifactRecord{RunID: pctx.RunID, Stage: string(stage), Output: out})
		}
	}
	return run, transitions, artifacts
}
