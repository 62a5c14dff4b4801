// Package models provides shared types for the DevPilot HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// RunSummary is the list view of a pipeline run.
type RunSummary struct {
	RunID            string    `json:"run_id"`
	Request          string    `json:"request"`
	FinalStage       string    `json:"final_stage"`
	Success          bool      `json:"success"`
	RequiresApproval bool      `json:"requires_approval"`
	Message          string    `json:"message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Transition is one recorded stage change in a run's audit trail.
type Transition struct {
	Seq       int       `json:"seq"`
	FromStage string    `json:"from_stage"`
	ToStage   string    `json:"to_stage"`
	At        time.Time `json:"at"`
}

// RunDetail is the full view of a run: summary fields, counters,
// the audit trail, and the per-stage outputs.
type RunDetail struct {
	RunSummary
	ApprovalReason string            `json:"approval_reason,omitempty"`
	RevisionCount  int               `json:"revision_count"`
	TestFailures   int               `json:"test_failures"`
	DurationMS     int64             `json:"duration_ms"`
	Transitions    []Transition      `json:"transitions"`
	Artifacts      map[string]string `json:"artifacts,omitempty"`
}

// ApproveResponse is returned by POST /api/runs/{id}/approve.
type ApproveResponse struct {
	OK      bool   `json:"ok"`
	Granted bool   `json:"granted"`
	Message string `json:"message,omitempty"`
}

// RunRequest is the body for POST /api/runs.
type RunRequest struct {
	Request string `json:"request"`
}
