package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/agent"
	"github.com/purlieu-studios/DevPilot-sub002/internal/pipeline"
	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
	"github.com/purlieu-studios/DevPilot-sub002/pkg/models"
)

func newTestApp(t *testing.T, opts ServerOptions) *App {
	t.Helper()
	opts.Home = t.TempDir()
	app, err := NewApp(opts)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { _ = app.Store.Close() })
	return app
}

func stubRunner() Runner {
	agents := make(map[pipeline.Stage]agent.Agent)
	for _, s := range pipeline.AgentStages() {
		agents[s] = agent.StubAgent{}
	}
	orch, err := pipeline.New(agents)
	if err != nil {
		panic(err)
	}
	return func(ctx context.Context, request string, emit func(agent.Event)) pipeline.Result {
		return orch.Execute(ctx, request, emit)
	}
}

func seedRun(t *testing.T, app *App, runID string, awaiting bool) {
	t.Helper()
	run := store.RunRecord{
		RunID:      runID,
		Request:    "add retry logic",
		FinalStage: models.StageCompleted,
		Success:    true,
		Duration:   2 * time.Second,
		CreatedAt:  time.Now().UTC(),
	}
	if awaiting {
		run.Success = false
		run.FinalStage = models.StageAwaitingApproval
		run.RequiresApproval = true
		run.ApprovalReason = "risk level high"
	}
	transitions := []store.TransitionRecord{
		{RunID: runID, Seq: 0, FromStage: models.StageNotStarted, ToStage: models.StagePlanning, At: run.CreatedAt},
	}
	artifacts := []store.ArtifactRecord{
		{RunID: runID, Stage: models.StagePlanning, Output: `{"risk_level":"low"}`},
	}
	if err := app.Store.SaveRun(context.Background(), run, transitions, artifacts); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("body: %v", body)
	}
}

func TestListRuns(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	seedRun(t, app, "r1", false)
	seedRun(t, app, "r2", true)

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var runs []models.RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs: %+v", runs)
	}

	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?awaiting=1", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decode awaiting: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "r2" || !runs[0].RequiresApproval {
		t.Fatalf("awaiting: %+v", runs)
	}
}

func TestGetRun(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	seedRun(t, app, "r1", false)

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var detail models.RunDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.RunID != "r1" || detail.FinalStage != models.StageCompleted {
		t.Fatalf("detail: %+v", detail)
	}
	if len(detail.Transitions) != 1 || detail.Artifacts[models.StagePlanning] == "" {
		t.Fatalf("detail trail/artifacts: %+v", detail)
	}
}

func TestGetRun_notFound(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestApprove(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	seedRun(t, app, "blocked", true)

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/blocked/approve", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var resp models.ApproveResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.OK || !resp.Granted {
		t.Fatalf("resp: %+v", resp)
	}

	// Second approve is a no-op.
	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs/blocked/approve", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Granted {
		t.Fatalf("second approve granted: %+v", resp)
	}
}

func TestApprove_methodNotAllowed(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/x/approve", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestPostRun_executesAndPersists(t *testing.T) {
	app := newTestApp(t, ServerOptions{Runner: stubRunner()})

	body, _ := json.Marshal(models.RunRequest{Request: "add a --verbose flag"})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	var detail models.RunDetail
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !detail.Success || detail.FinalStage != models.StageCompleted {
		t.Fatalf("detail: %+v", detail)
	}

	stored, err := app.Store.GetRun(context.Background(), detail.RunID)
	if err != nil {
		t.Fatalf("GetRun after POST: %v", err)
	}
	if !stored.Success {
		t.Fatalf("stored: %+v", stored)
	}
}

func TestPostRun_emptyRequest(t *testing.T) {
	app := newTestApp(t, ServerOptions{Runner: stubRunner()})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte(`{"request":"  "}`))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestPostRun_runnerDisabled(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader([]byte(`{"request":"x"}`))))
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestAPIKeyMiddleware(t *testing.T) {
	app := newTestApp(t, ServerOptions{APIKey: "secret"})

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("without key: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("with key: %d", rec.Code)
	}

	// Health is exempt.
	rec = httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz with key required: %d", rec.Code)
	}
}

func TestMetricsFallback(t *testing.T) {
	app := newTestApp(t, ServerOptions{})
	seedRun(t, app, "r1", false)
	seedRun(t, app, "r2", true)

	rec := httptest.NewRecorder()
	app.Server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	body := rec.Body.String()
	if !bytes.Contains([]byte(body), []byte(`devpilot_runs_total{outcome="succeeded"} 1`)) {
		t.Errorf("metrics body:\n%s", body)
	}
	if !bytes.Contains([]byte(body), []byte(`devpilot_runs_total{outcome="awaiting_approval"} 1`)) {
		t.Errorf("metrics body:\n%s", body)
	}
}
