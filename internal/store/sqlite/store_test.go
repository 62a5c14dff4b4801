package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/purlieu-studios/DevPilot-sub002/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	home := filepath.Join(t.TempDir(), "home")
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func sampleRun(runID string) (store.RunRecord, []store.TransitionRecord, []store.ArtifactRecord) {
	now := time.Now().UTC()
	run := store.RunRecord{
		RunID:         runID,
		Request:       "add a flag",
		FinalStage:    "completed",
		Success:       true,
		RevisionCount: 1,
		TestFailures:  0,
		Duration:      3 * time.Second,
		CreatedAt:     now,
	}
	transitions := []store.TransitionRecord{
		{RunID: runID, Seq: 0, FromStage: "not_started", ToStage: "planning", At: now},
		{RunID: runID, Seq: 1, FromStage: "planning", ToStage: "coding", At: now.Add(time.Second)},
	}
	artifacts := []store.ArtifactRecord{
		{RunID: runID, Stage: "planning", Output: `{"risk_level":"low"}`},
		{RunID: runID, Stage: "coding", Output: "patch"},
	}
	return run, transitions, artifacts
}

func TestOpenClose(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	st, err := Open(home)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestMigrate_idempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate again: %v", err)
	}
}

func TestSaveRun_GetRun(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	run, transitions, artifacts := sampleRun("r1")
	if err := st.SaveRun(ctx, run, transitions, artifacts); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Request != run.Request || got.FinalStage != "completed" || !got.Success {
		t.Errorf("GetRun: %+v", got)
	}
	if got.RevisionCount != 1 || got.Duration != 3*time.Second {
		t.Errorf("GetRun counters: %+v", got)
	}

	trs, err := st.GetTransitions(ctx, "r1")
	if err != nil {
		t.Fatalf("GetTransitions: %v", err)
	}
	if len(trs) != 2 || trs[0].ToStage != "planning" || trs[1].ToStage != "coding" {
		t.Errorf("GetTransitions: %+v", trs)
	}

	arts, err := st.GetArtifacts(ctx, "r1")
	if err != nil {
		t.Fatalf("GetArtifacts: %v", err)
	}
	if len(arts) != 2 {
		t.Errorf("GetArtifacts: %+v", arts)
	}
}

func TestGetRun_notFound(t *testing.T) {
	st := openTestStore(t)
	_, err := st.GetRun(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSaveRun_overwrite(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	run, transitions, artifacts := sampleRun("r1")
	if err := st.SaveRun(ctx, run, transitions, artifacts); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run.FinalStage = "failed"
	run.Success = false
	run.Message = "evaluator rejected the change"
	if err := st.SaveRun(ctx, run, transitions[:1], artifacts[:1]); err != nil {
		t.Fatalf("SaveRun overwrite: %v", err)
	}
	got, err := st.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.FinalStage != "failed" || got.Success || got.Message == "" {
		t.Errorf("overwrite not applied: %+v", got)
	}
	trs, _ := st.GetTransitions(ctx, "r1")
	if len(trs) != 1 {
		t.Errorf("transitions not replaced: %+v", trs)
	}
}

func TestListRuns_ordering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"old", "mid", "new"} {
		run, _, _ := sampleRun(id)
		run.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Hour)
		if err := st.SaveRun(ctx, run, nil, nil); err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}
	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 || runs[0].RunID != "new" || runs[2].RunID != "old" {
		t.Errorf("ListRuns order: %+v", runs)
	}
	limited, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("ListRuns limit: got %d", len(limited))
	}
}

func TestGrantApproval(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	run, _, _ := sampleRun("blocked")
	run.Success = false
	run.FinalStage = "awaiting_approval"
	run.RequiresApproval = true
	run.ApprovalReason = "plan deletes file"
	if err := st.SaveRun(ctx, run, nil, nil); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	pending, err := st.ListAwaitingApproval(ctx)
	if err != nil {
		t.Fatalf("ListAwaitingApproval: %v", err)
	}
	if len(pending) != 1 || pending[0].RunID != "blocked" {
		t.Fatalf("ListAwaitingApproval: %+v", pending)
	}

	ok, err := st.GrantApproval(ctx, "blocked")
	if err != nil {
		t.Fatalf("GrantApproval: %v", err)
	}
	if !ok {
		t.Fatal("GrantApproval: got false")
	}
	got, _ := st.GetRun(ctx, "blocked")
	if got.RequiresApproval || got.ApprovalReason != "" {
		t.Errorf("approval not cleared: %+v", got)
	}

	// Second grant is a no-op.
	ok, err = st.GrantApproval(ctx, "blocked")
	if err != nil {
		t.Fatalf("GrantApproval again: %v", err)
	}
	if ok {
		t.Error("GrantApproval on non-pending run: got true")
	}
}
