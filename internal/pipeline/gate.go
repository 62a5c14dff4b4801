package pipeline

import (
	"fmt"
	"strings"
)

// Risk-gate thresholds.
const (
	// MaxStepLines is the largest per-step line estimate that passes the
	// gate without approval.
	MaxStepLines = 300
	// MaxSteps is the largest plan step count that passes the gate
	// without approval.
	MaxSteps = 7
)

// GateDecision is the result of evaluating the risk gate against a plan.
// Triggers are collected in rule order; Reason is the triggers joined.
type GateDecision struct {
	Required bool
	Triggers []string
	Reason   string
}

// EvaluateGate decides whether a human must approve before any
// code-affecting stage runs.
//
// Five independent rules are all evaluated (never short-circuited):
// an explicit approval request in the plan, a high risk level, any step
// estimated above MaxStepLines, more than MaxSteps steps, and any file
// deletion.
//
// An empty plan is a contract violation and returns an error before any
// rule runs. A present-but-unparseable plan fails safe: the gate requires
// approval with a reason saying the plan could not be validated.
func EvaluateGate(rawPlan string) (GateDecision, error) {
	plan, err := ParsePlan(rawPlan)
	if err != nil {
		if err == ErrEmptyArtifact {
			return GateDecision{}, fmt.Errorf("risk gate: planning artifact is empty")
		}
		// Fail safe, never open: unreadable plans require a human.
		reason := fmt.Sprintf("planning output could not be validated (%v); approval required", err)
		return GateDecision{Required: true, Triggers: []string{reason}, Reason: reason}, nil
	}

	var triggers []string

	if plan.RequiresApproval {
		reason := plan.ApprovalReason
		if reason == "" {
			reason = "no reason given"
		}
		triggers = append(triggers, fmt.Sprintf("plan explicitly requests approval: %s", reason))
	}

	if strings.EqualFold(plan.RiskLevel, RiskHigh) {
		msg := "plan risk level is high"
		if len(plan.RiskFactors) > 0 {
			msg += ": " + strings.Join(plan.RiskFactors, ", ")
		}
		triggers = append(triggers, msg)
	}

	for i, step := range plan.Steps {
		if step.EstimatedLines > MaxStepLines {
			triggers = append(triggers, fmt.Sprintf("step %d estimates %d changed lines (limit %d)", i+1, step.EstimatedLines, MaxStepLines))
		}
	}

	if n := len(plan.Steps); n > MaxSteps {
		triggers = append(triggers, fmt.Sprintf("plan has %d steps (limit %d)", n, MaxSteps))
	}

	for _, op := range plan.FileOperations {
		if strings.EqualFold(op.Action, FileOpDelete) {
			triggers = append(triggers, fmt.Sprintf("plan deletes file %s", op.Path))
		}
	}

	return GateDecision{
		Required: len(triggers) > 0,
		Triggers: triggers,
		Reason:   strings.Join(triggers, "; "),
	}, nil
}
