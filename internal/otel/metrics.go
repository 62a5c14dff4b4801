package otel

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce      sync.Once
	runsCounter          metric.Int64Counter
	stageDuration        metric.Float64Histogram
	gateDecisionsCounter metric.Int64Counter
	revisionsCounter     metric.Int64Counter
	sseEventsCounter     metric.Int64Counter
	sseConnectionsGauge  metric.Int64ObservableGauge
	sseConnections       int64
	sseConnectionsMu     sync.Mutex
)

// InitMetrics creates the meter instruments. Safe to call multiple times; only runs once.
// Call after InitMeterProvider. All Record* functions are no-ops until then.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		runsCounter, err = m.Int64Counter("devpilot_pipeline_runs_total", metric.WithDescription("Total pipeline runs by terminal outcome"))
		if err != nil {
			return
		}
		stageDuration, err = m.Float64Histogram("devpilot_stage_duration_seconds", metric.WithDescription("Agent stage duration in seconds"))
		if err != nil {
			return
		}
		gateDecisionsCounter, err = m.Int64Counter("devpilot_gate_decisions_total", metric.WithDescription("Risk gate decisions by whether approval was required"))
		if err != nil {
			return
		}
		revisionsCounter, err = m.Int64Counter("devpilot_revision_loops_total", metric.WithDescription("Total coding/reviewing revision loop iterations"))
		if err != nil {
			return
		}
		sseEventsCounter, err = m.Int64Counter("devpilot_sse_events_total", metric.WithDescription("Total SSE events published"))
		if err != nil {
			return
		}
		sseConnectionsGauge, err = m.Int64ObservableGauge("devpilot_sse_connections", metric.WithDescription("Current SSE subscriber count"))
		if err != nil {
			return
		}
		_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
			sseConnectionsMu.Lock()
			n := sseConnections
			sseConnectionsMu.Unlock()
			o.ObserveInt64(sseConnectionsGauge, n)
			return nil
		}, sseConnectionsGauge)
		if err != nil {
			return
		}
	})
	return err
}

// RecordRun records one terminal pipeline run by outcome
// (success, success_with_warnings, failed, awaiting_approval).
func RecordRun(ctx context.Context, outcome string) {
	if runsCounter == nil {
		return
	}
	runsCounter.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordStage records one agent stage invocation and its duration.
func RecordStage(ctx context.Context, stage string, duration time.Duration) {
	if stageDuration == nil {
		return
	}
	stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(AttrStage.String(stage)))
}

// RecordGateDecision records one risk gate evaluation.
func RecordGateDecision(ctx context.Context, required bool) {
	if gateDecisionsCounter == nil {
		return
	}
	gateDecisionsCounter.Add(ctx, 1, metric.WithAttributes(AttrRequired.String(strconv.FormatBool(required))))
}

// RecordRevision records one revision loop iteration.
func RecordRevision(ctx context.Context) {
	if revisionsCounter == nil {
		return
	}
	revisionsCounter.Add(ctx, 1)
}

// RecordSSEEvent records one SSE event published.
func RecordSSEEvent(ctx context.Context) {
	if sseEventsCounter != nil {
		sseEventsCounter.Add(ctx, 1)
	}
}

// AddSSEConnection adds 1 to the SSE connection gauge (call on subscribe).
func AddSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections++
	sseConnectionsMu.Unlock()
}

// RemoveSSEConnection subtracts 1 from the SSE connection gauge (call on unsubscribe).
func RemoveSSEConnection() {
	sseConnectionsMu.Lock()
	sseConnections--
	if sseConnections < 0 {
		sseConnections = 0
	}
	sseConnectionsMu.Unlock()
}
