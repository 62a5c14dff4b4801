package pipeline

import "time"

// Result is the terminal, immutable snapshot handed back to the caller.
// Exactly one Result is produced per run, by exactly one of the four
// constructors below.
type Result struct {
	Success          bool
	Stage            Stage
	Context          *Context
	Duration         time.Duration
	RequiresApproval bool
	// Message carries the failure reason, the gate's combined reason, or
	// a warning on a successful run; empty on a clean success.
	Message string
}

func successResult(ctx *Context, d time.Duration) Result {
	return Result{Success: true, Stage: ctx.Stage, Context: ctx, Duration: d}
}

func successWithWarnings(ctx *Context, d time.Duration, warning string) Result {
	return Result{Success: true, Stage: ctx.Stage, Context: ctx, Duration: d, Message: warning}
}

func failureResult(ctx *Context, d time.Duration, reason string) Result {
	return Result{Success: false, Stage: ctx.Stage, Context: ctx, Duration: d, Message: reason}
}

func awaitingApprovalResult(ctx *Context, d time.Duration, reason string) Result {
	return Result{
		Success:          false,
		Stage:            ctx.Stage,
		Context:          ctx,
		Duration:         d,
		RequiresApproval: true,
		Message:          reason,
	}
}
