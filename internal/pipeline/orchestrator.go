package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/otel"
)

// MaxRevisions bounds the coding<->reviewing loop. The revision counter
// is never incremented past this value.
const MaxRevisions = 2

// Orchestrator drives one run from request to terminal Result. It owns
// the run's Context exclusively; stages execute strictly sequentially.
type Orchestrator struct {
	agents map[Stage]agent.Agent
}

// New validates the stage bindings and returns an orchestrator. Exactly
// one Agent is required per agent stage; every missing stage is named in
// one combined error.
func New(bindings map[Stage]agent.Agent) (*Orchestrator, error) {
	var missing []string
	for _, s := range AgentStages() {
		if bindings[s] == nil {
			missing = append(missing, string(s))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("orchestrator: missing agent binding for stage(s): %s", strings.Join(missing, ", "))
	}
	agents := make(map[Stage]agent.Agent, len(bindings))
	for _, s := range AgentStages() {
		agents[s] = bindings[s]
	}
	return &Orchestrator{agents: agents}, nil
}

// Execute runs the full pipeline for request and returns the terminal
// Result. emit receives agent progress events and may be nil. Every
// terminal path maps to a Result; no error escapes.
func (o *Orchestrator) Execute(ctx context.Context, request string, emit func(agent.Event)) Result {
	start := time.Now()
	if emit == nil {
		emit = func(agent.Event) {}
	}

	pctx := NewContext(request)
	if strings.TrimSpace(request) == "" {
		// Contract violation: rejected before any stage runs, so the
		// audit trail stays empty.
		return failureResult(pctx, time.Since(start), "request is empty")
	}

	slog.Info("pipeline run started", "run_id", pctx.RunID)

	// Planning.
	plan, res, done := o.runStage(ctx, pctx, StagePlanning, "Produce a structured implementation plan for the request.", emit, start)
	if done {
		return o.finish(res, emit)
	}

	// Risk gate: decides whether a human must approve before any
	// code-affecting stage runs.
	decision, err := EvaluateGate(plan)
	if err != nil {
		return o.fail(pctx, start, emit, err.Error())
	}
	otel.RecordGateDecision(ctx, decision.Required)
	if decision.Required {
		pctx.RequestApproval(decision.Reason)
		pctx.AdvanceTo(StageAwaitingApproval)
		slog.Info("pipeline run awaiting approval", "run_id", pctx.RunID, "reason", decision.Reason)
		r := awaitingApprovalResult(pctx, time.Since(start), decision.Reason)
		return o.finish(r, emit)
	}

	// Coding and reviewing, with the bounded revision loop.
	var review Review
	reviseFeedback := ""
	for {
		instruction := "Implement the plan as a patch."
		if reviseFeedback != "" {
			instruction = "Revise the patch to address the review feedback: " + reviseFeedback
		}
		if _, res, done := o.runStage(ctx, pctx, StageCoding, instruction, emit, start); done {
			return o.finish(res, emit)
		}

		rawReview, res, done := o.runStage(ctx, pctx, StageReviewing, "Review the patch and return a verdict.", emit, start)
		if done {
			return o.finish(res, emit)
		}
		review, err = ParseReview(rawReview)
		if err != nil {
			return o.fail(pctx, start, emit, err.Error())
		}

		if review.Verdict == VerdictApprove {
			break
		}
		if review.Verdict == VerdictReject {
			if pctx.RevisionCount > 0 {
				return o.fail(pctx, start, emit, "reviewer rejected revised code")
			}
			return o.fail(pctx, start, emit, "reviewer rejected the change")
		}

		// Revise: guard before looping so the counter freezes at the max
		// instead of running past it.
		if pctx.RevisionCount >= MaxRevisions {
			return o.fail(pctx, start, emit, fmt.Sprintf("maximum revision iterations exceeded (%d)", MaxRevisions))
		}
		pctx.IncrementRevisions()
		otel.RecordRevision(ctx)
		reviseFeedback = review.Comments
		slog.Info("reviewer requested revision", "run_id", pctx.RunID, "revision", pctx.RevisionCount)
	}

	// Testing: failing individual tests inside a successful response are
	// recorded and carried forward, never fatal on their own.
	rawTests, res, done := o.runStage(ctx, pctx, StageTesting, "Run the test suite against the patch and report results.", emit, start)
	if done {
		return o.finish(res, emit)
	}
	report, err := ParseTestReport(rawTests)
	if err != nil {
		return o.fail(pctx, start, emit, err.Error())
	}
	pctx.SetTestFailures(report.Failed)
	if report.Failed > 0 {
		slog.Warn("tests failed during run", "run_id", pctx.RunID, "failed", report.Failed)
	}

	// Evaluating.
	rawEval, res, done := o.runStage(ctx, pctx, StageEvaluating, "Score the change against the request and return a verdict.", emit, start)
	if done {
		return o.finish(res, emit)
	}
	eval, err := ParseEvaluation(rawEval)
	if err != nil {
		return o.fail(pctx, start, emit, err.Error())
	}
	if eval.Verdict != VerdictAccept {
		return o.fail(pctx, start, emit, fmt.Sprintf("evaluator rejected the change (score %.2f)", eval.Score))
	}

	pctx.AdvanceTo(StageCompleted)
	if pctx.TestFailures > 0 {
		warning := fmt.Sprintf("completed with %d failing test(s); review before merging", pctx.TestFailures)
		return o.finish(successWithWarnings(pctx, time.Since(start), warning), emit)
	}
	return o.finish(successResult(pctx, time.Since(start)), emit)
}

// runStage checks for cancellation, advances the context, invokes the
// stage's agent, and records its artifact. done=true means the run
// terminated (agent failure or cancellation) and res is the Result.
func (o *Orchestrator) runStage(ctx context.Context, pctx *Context, stage Stage, instruction string, emit func(agent.Event), start time.Time) (output string, res Result, done bool) {
	if err := ctx.Err(); err != nil {
		pctx.AdvanceTo(StageFailed)
		return "", failureResult(pctx, time.Since(start), fmt.Sprintf("run cancelled before %s stage", stage)), true
	}

	pctx.AdvanceTo(stage)
	emit(agent.Event{
		Type:      "stage_started",
		RunID:     pctx.RunID,
		Stage:     string(stage),
		Timestamp: time.Now().UTC(),
	})

	stageStart := time.Now()
	result, err := o.agents[stage].Run(ctx, agent.Request{
		RunID:       pctx.RunID,
		Stage:       string(stage),
		Instruction: instruction,
		Artifacts:   o.artifacts(pctx),
	}, emit)
	otel.RecordStage(ctx, string(stage), time.Since(stageStart))
	if err != nil {
		// Universal fail-fast: an agent's failure to produce output is
		// never retried or tolerated by the orchestrator.
		pctx.AdvanceTo(StageFailed)
		reason := fmt.Sprintf("%s agent failed: %v", stage, err)
		slog.Error("agent failed", "run_id", pctx.RunID, "stage", stage, "err", err)
		return "", failureResult(pctx, time.Since(start), reason), true
	}

	pctx.SetOutput(stage, result.Output)
	return result.Output, Result{}, false
}

// artifacts assembles the shared context an agent receives: the original
// request plus the latest output of every stage that has produced one.
func (o *Orchestrator) artifacts(pctx *Context) map[string]string {
	arts := map[string]string{"request": pctx.Request}
	for stage, out := range pctx.Outputs() {
		arts[string(stage)] = out
	}
	return arts
}

func (o *Orchestrator) fail(pctx *Context, start time.Time, emit func(agent.Event), reason string) Result {
	pctx.AdvanceTo(StageFailed)
	slog.Warn("pipeline run failed", "run_id", pctx.RunID, "reason", reason)
	return o.finish(failureResult(pctx, time.Since(start), reason), emit)
}

func (o *Orchestrator) finish(res Result, emit func(agent.Event)) Result {
	otel.RecordRun(context.Background(), outcomeLabel(res))
	emit(agent.Event{
		Type:      "run_finished",
		RunID:     res.Context.RunID,
		Stage:     string(res.Stage),
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"success": res.Success,
			"message": res.Message,
		},
	})
	slog.Info("pipeline run finished",
		"run_id", res.Context.RunID,
		"stage", res.Stage,
		"success", res.Success,
		"duration", res.Duration,
	)
	return res
}

func outcomeLabel(res Result) string {
	switch {
	case res.RequiresApproval:
		return "awaiting_approval"
	case res.Success && res.Message != "":
		return "success_with_warnings"
	case res.Success:
		return "success"
	}
	return "failed"
}
