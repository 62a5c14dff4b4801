// Package agent defines the capability boundary the pipeline consumes:
// an Agent accepts an instruction plus shared context and returns a
// textual artifact or a failure reason. Implementations here are the
// subprocess adapter and a deterministic stub; anything heavier (LLM
// tool invocation, MCP tooling) lives behind the same interface,
// outside this repository.
package agent

import (
	"context"
	"time"
)

// Event is an optional progress record emitted by an agent while it
// works. Events are surfaced to observers (SSE, logs) and never affect
// control flow.
type Event struct {
	Type      string         `json:"type"`
	RunID     string         `json:"run_id,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Request is one unit of work handed to an agent: the instruction for
// its stage plus the shared context accumulated so far.
type Request struct {
	RunID       string            `json:"run_id"`
	Stage       string            `json:"stage"`
	Instruction string            `json:"instruction"`
	// Artifacts carries the original request (key "request") and the
	// latest output of every prior stage, keyed by stage name.
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Result is a successful agent response. Failure is reported through the
// error return, carrying the agent's reason.
type Result struct {
	Output string
}

// Agent is one bound capability per pipeline stage.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request, emit func(Event)) (Result, error)
}
