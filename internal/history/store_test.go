package history_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"logsentinel/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "state", history.FileName))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAssignsIDAndRoundTrips(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC)

	run, err := store.Record(ctx, history.Run{
		SourceID:       "edge-fw01",
		StageIndex:     0,
		Stage:          "periodic_analysis",
		Status:         history.StatusSucceeded,
		StartedAt:      started,
		FinishedAt:     started.Add(1500 * time.Millisecond),
		LineCount:      42,
		ReportPath:     "/reports/edge-fw01/periodic_analysis/2026-03-02/13-30-01.json",
		FailedWorkers:  []string{"auth [1/2]", "dns"},
		ReduceFallback: true,
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if run.ID == "" {
		t.Fatal("expected generated id")
	}

	runs, err := store.List(ctx, history.Filter{SourceID: "edge-fw01"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.ID != run.ID || got.LineCount != 42 || !got.ReduceFallback {
		t.Fatalf("unexpected run %+v", got)
	}
	if !got.StartedAt.Equal(started) || got.Duration() != 1500*time.Millisecond {
		t.Fatalf("unexpected timing %v %v", got.StartedAt, got.Duration())
	}
	if len(got.FailedWorkers) != 2 || got.FailedWorkers[1] != "dns" {
		t.Fatalf("unexpected failed workers %q", got.FailedWorkers)
	}
}

func TestListOrdersNewestFirstAndFilters(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	for i, status := range []history.Status{history.StatusSucceeded, history.StatusFailed, history.StatusEmpty} {
		if _, err := store.Record(ctx, history.Run{
			SourceID:   "fw",
			Stage:      "periodic",
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := store.Record(ctx, history.Run{SourceID: "other", Stage: "periodic", StartedAt: base}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	runs, err := store.List(ctx, history.Filter{SourceID: "fw", Limit: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 2 || runs[0].Status != history.StatusEmpty || runs[1].Status != history.StatusFailed {
		t.Fatalf("unexpected order %+v", runs)
	}

	failed, err := store.List(ctx, history.Filter{Status: history.StatusFailed})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(failed) != 1 || failed[0].SourceID != "fw" {
		t.Fatalf("unexpected failed runs %+v", failed)
	}
}

func TestLatestPerStage(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	record := func(stage int, offset time.Duration, status history.Status) {
		t.Helper()
		if _, err := store.Record(ctx, history.Run{
			SourceID:   "fw",
			StageIndex: stage,
			Stage:      "s",
			Status:     status,
			StartedAt:  base.Add(offset),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	record(0, 0, history.StatusFailed)
	record(0, time.Minute, history.StatusSucceeded)
	record(1, 30*time.Second, history.StatusFailed)

	latest, err := store.Latest(ctx, "fw")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(latest))
	}
	if latest[0].Status != history.StatusSucceeded || latest[1].Status != history.StatusFailed {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestPruneAndRename(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Now()
	for _, started := range []time.Time{now.Add(-48 * time.Hour), now} {
		if _, err := store.Record(ctx, history.Run{SourceID: "old-name", Stage: "s", StartedAt: started}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
	if err := store.RenameSource(ctx, "old-name", "new-name"); err != nil {
		t.Fatalf("RenameSource: %v", err)
	}
	runs, err := store.List(ctx, history.Filter{SourceID: "new-name"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected renamed run, got %d", len(runs))
	}
}

func TestRecordRequiresSource(t *testing.T) {
	store := openStore(t)
	if _, err := store.Record(context.Background(), history.Run{Stage: "s"}); err == nil {
		t.Fatal("expected error without source id")
	}
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), history.FileName)
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = db.Close()

	if _, err := history.Open(path); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), history.FileName)
	store, err := history.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.Record(context.Background(), history.Run{SourceID: "fw", Stage: "s"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	_ = store.Close()

	reopened, err := history.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	runs, err := reopened.List(context.Background(), history.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected persisted run, got %d", len(runs))
	}
}
