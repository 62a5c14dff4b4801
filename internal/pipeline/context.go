package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Transition is one audit-trail record: the run entered To from From at At.
// The trail is append-only for the lifetime of the run.
type Transition struct {
	To   Stage     `json:"to"`
	From Stage     `json:"from"`
	At   time.Time `json:"at"`
}

// Context is the per-run record: identity, the original request, one
// overwritable artifact slot per agent stage, the audit trail, approval
// state, and the revision and test-failure counters.
//
// A Context is owned exclusively by the orchestrator executing its run and
// is mutated only from that single goroutine. Once the run reaches a
// terminal stage it is read-only.
type Context struct {
	RunID     string    `json:"run_id"`
	Request   string    `json:"request"`
	CreatedAt time.Time `json:"created_at"`

	Stage Stage `json:"stage"`

	// outputs holds the latest artifact per agent stage; re-entries into
	// coding/reviewing during the revision loop overwrite their slot.
	outputs [numAgentStages]string
	trail   []Transition

	ApprovalRequired bool   `json:"approval_required"`
	ApprovalReason   string `json:"approval_reason,omitempty"`

	RevisionCount int `json:"revision_count"`
	TestFailures  int `json:"test_failures"`
}

// NewContext creates the context for one run with a generated run ID.
func NewContext(request string) *Context {
	return &Context{
		RunID:     uuid.NewString(),
		Request:   request,
		CreatedAt: time.Now().UTC(),
		Stage:     StageNotStarted,
	}
}

// AdvanceTo moves the run into stage and appends one audit record. Every
// stage entry goes through here, including revision-loop re-entries.
func (c *Context) AdvanceTo(stage Stage) {
	c.trail = append(c.trail, Transition{To: stage, From: c.Stage, At: time.Now().UTC()})
	c.Stage = stage
}

// SetOutput stores the artifact produced by an agent stage, overwriting
// any previous artifact for that stage. Non-agent stages are ignored.
func (c *Context) SetOutput(stage Stage, output string) {
	if i := agentStageIndex(stage); i >= 0 {
		c.outputs[i] = output
	}
}

// Output returns the latest artifact for an agent stage, or "" if the
// stage has not produced one.
func (c *Context) Output(stage Stage) string {
	if i := agentStageIndex(stage); i >= 0 {
		return c.outputs[i]
	}
	return ""
}

// Outputs returns the recorded artifacts keyed by stage. Only stages that
// have produced output are present.
func (c *Context) Outputs() map[Stage]string {
	out := make(map[Stage]string, numAgentStages)
	for _, s := range AgentStages() {
		if v := c.outputs[agentStageIndex(s)]; v != "" {
			out[s] = v
		}
	}
	return out
}

// Trail returns a copy of the audit trail in execution order.
func (c *Context) Trail() []Transition {
	out := make([]Transition, len(c.trail))
	copy(out, c.trail)
	return out
}

// RequestApproval records that the run is blocked on human approval. Flag
// and reason are set together.
func (c *Context) RequestApproval(reason string) {
	c.ApprovalRequired = true
	c.ApprovalReason = reason
}

// GrantApproval clears the approval block (used by external approval
// workflows operating on a stored context).
func (c *Context) GrantApproval() {
	c.ApprovalRequired = false
	c.ApprovalReason = ""
}

// IncrementRevisions bumps the revision counter. Called only when the
// reviewer demanded rework and the loop bound has not been reached.
func (c *Context) IncrementRevisions() {
	c.RevisionCount++
}

// SetTestFailures records the failed-test count reported by the testing
// stage. It never blocks progression; evaluation decides what it means.
func (c *Context) SetTestFailures(n int) {
	if n < 0 {
		n = 0
	}
	c.TestFailures = n
}
