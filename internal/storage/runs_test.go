package storage_test

import (
	"path/filepath"
	"testing"

	"shopfeed/internal/storage"
)

// ─────────────────────────────────────────────────────────────
// RunStore tests — real SQLite file in a temp dir
// ─────────────────────────────────────────────────────────────

func newStore(t *testing.T) *storage.RunStore {
	t.Helper()
	db, err := storage.New(filepath.Join(t.TempDir(), "feed_runs.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewRunStore(db)
}

func TestRunStore_CreateAndGet(t *testing.T) {
	store := newStore(t)

	run := &storage.FeedRun{RunName: "20260831_120000", Trigger: "manual", Kind: "full"}
	if err := store.CreateRun(run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("CreateRun must assign an id")
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.RunName != "20260831_120000" || got.Trigger != "manual" || got.Kind != "full" {
		t.Errorf("got %+v", got)
	}
	if got.Status != "running" {
		t.Errorf("status = %q, want default running", got.Status)
	}
	if got.FinishedAt != nil {
		t.Error("a fresh run has no finish time")
	}
}

func TestRunStore_FinishRun(t *testing.T) {
	store := newStore(t)

	run := &storage.FeedRun{RunName: "r1", Trigger: "manual", Kind: "full"}
	if err := store.CreateRun(run); err != nil {
		t.Fatal(err)
	}
	if err := store.SetExportJob(run.ID, "987654"); err != nil {
		t.Fatalf("SetExportJob: %v", err)
	}
	if err := store.FinishRun(run.ID, "success", "", 120, 40, 40); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "success" || got.ExportJobID != "987654" {
		t.Errorf("got %+v", got)
	}
	if got.ExportedObjects != 120 || got.Products != 40 || got.Patched != 40 {
		t.Errorf("counters = %d/%d/%d", got.ExportedObjects, got.Products, got.Patched)
	}
	if got.FinishedAt == nil {
		t.Error("finished run must carry a finish time")
	}
}

func TestRunStore_ListRunsLimit(t *testing.T) {
	store := newStore(t)

	for _, name := range []string{"r1", "r2", "r3"} {
		if err := store.CreateRun(&storage.FeedRun{RunName: name, Trigger: "manual", Kind: "full"}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want limit applied", len(runs))
	}
}

func TestRunStore_LastSuccessfulRun(t *testing.T) {
	store := newStore(t)

	if last, err := store.LastSuccessfulRun(); err != nil || last != nil {
		t.Fatalf("expected no baseline, got %v, %v", last, err)
	}

	ok := &storage.FeedRun{RunName: "good", Trigger: "manual", Kind: "full"}
	if err := store.CreateRun(ok); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(ok.ID, "success", "", 1, 1, 1); err != nil {
		t.Fatal(err)
	}
	bad := &storage.FeedRun{RunName: "bad", Trigger: "manual", Kind: "full"}
	if err := store.CreateRun(bad); err != nil {
		t.Fatal(err)
	}
	if err := store.FinishRun(bad.ID, "error", "boom", 0, 0, 0); err != nil {
		t.Fatal(err)
	}

	last, err := store.LastSuccessfulRun()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.RunName != "good" {
		t.Errorf("last successful = %+v, want the good run", last)
	}
}

func TestRunStore_GetRunMissing(t *testing.T) {
	store := newStore(t)
	if _, err := store.GetRun("nope"); err == nil {
		t.Error("expected error for unknown run id")
	}
}
