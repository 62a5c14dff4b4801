package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Risk levels reported by the planning stage.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// File operation kinds in a plan.
const (
	FileOpCreate = "create"
	FileOpModify = "modify"
	FileOpDelete = "delete"
)

// Review verdicts.
const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
	VerdictRevise  = "revise"
)

// Evaluation verdicts.
const (
	VerdictAccept = "accept"
)

// PlanStep is one execution step in a plan with its size estimate.
type PlanStep struct {
	Description    string `json:"description"`
	EstimatedLines int    `json:"estimated_lines"`
}

// FileOp is one file operation the plan intends to perform.
type FileOp struct {
	Path   string `json:"path"`
	Action string `json:"action"` // create, modify, delete
}

// Plan is the structured artifact produced by the planning stage and
// consumed by the risk gate.
type Plan struct {
	RequiresApproval bool       `json:"requires_approval"`
	ApprovalReason   string     `json:"approval_reason,omitempty"`
	RiskLevel        string     `json:"risk_level"`
	RiskFactors      []string   `json:"risk_factors,omitempty"`
	Steps            []PlanStep `json:"steps"`
	FileOperations   []FileOp   `json:"file_operations,omitempty"`
}

// Review is the reviewing stage's artifact. Only the verdict is required
// by the orchestrator; comments ride along for the audit record.
type Review struct {
	Verdict  string `json:"verdict"` // approve, reject, revise
	Comments string `json:"comments,omitempty"`
}

// TestReport is the testing stage's artifact. Failed is the count of
// failing individual tests; zero means no recorded failures.
type TestReport struct {
	Passed int `json:"passed"`
	Failed int `json:"failed"`
}

// Evaluation is the evaluating stage's artifact: an overall score and a
// final verdict.
type Evaluation struct {
	Score   float64 `json:"score"`
	Verdict string  `json:"verdict"` // accept, reject
	Summary string  `json:"summary,omitempty"`
}

// ErrEmptyArtifact is returned when a stage output that must be parsed is
// empty. This is a contract violation by the caller, not a stage outcome.
var ErrEmptyArtifact = errors.New("artifact is empty")

// ParsePlan decodes a planning artifact. Empty input is a contract
// violation; malformed input is an error the gate treats as fail-safe.
func ParsePlan(raw string) (Plan, error) {
	var p Plan
	if strings.TrimSpace(raw) == "" {
		return p, ErrEmptyArtifact
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return p, fmt.Errorf("parse plan: %w", err)
	}
	return p, nil
}

// ParseReview decodes a review artifact and normalizes the verdict.
func ParseReview(raw string) (Review, error) {
	var r Review
	if strings.TrimSpace(raw) == "" {
		return r, ErrEmptyArtifact
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("parse review: %w", err)
	}
	r.Verdict = strings.ToLower(strings.TrimSpace(r.Verdict))
	switch r.Verdict {
	case VerdictApprove, VerdictReject, VerdictRevise:
		return r, nil
	}
	return r, fmt.Errorf("parse review: unknown verdict %q", r.Verdict)
}

// ParseTestReport decodes a test report artifact.
func ParseTestReport(raw string) (TestReport, error) {
	var t TestReport
	if strings.TrimSpace(raw) == "" {
		return t, ErrEmptyArtifact
	}
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return t, fmt.Errorf("parse test report: %w", err)
	}
	if t.Failed < 0 {
		return t, fmt.Errorf("parse test report: negative failed count %d", t.Failed)
	}
	return t, nil
}

// ParseEvaluation decodes an evaluation artifact and normalizes the
// verdict.
func ParseEvaluation(raw string) (Evaluation, error) {
	var e Evaluation
	if strings.TrimSpace(raw) == "" {
		return e, ErrEmptyArtifact
	}
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return e, fmt.Errorf("parse evaluation: %w", err)
	}
	e.Verdict = strings.ToLower(strings.TrimSpace(e.Verdict))
	switch e.Verdict {
	case VerdictAccept, VerdictReject:
		return e, nil
	}
	return e, fmt.Errorf("parse evaluation: unknown verdict %q", e.Verdict)
}
