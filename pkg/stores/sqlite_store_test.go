package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return store
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestRecordAndGetRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := NewSyncRun(RunKindSync, "abc123def456", "acme/widgets", false)
	run.Warnings = 2
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Kind != RunKindSync || got.PlanID != "abc123def456" || got.Target != "acme/widgets" {
		t.Errorf("run = %+v, want recorded fields back", got)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
	if got.Warnings != 2 {
		t.Errorf("warnings = %d, want 2", got.Warnings)
	}
	if got.FinishedAt != nil {
		t.Error("a running run has no finish time")
	}
}

func TestFinishRunUpdatesCountersAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := NewSyncRun(RunKindSync, "abc123def456", "acme/widgets", false)
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	run.Status = RunStatusSucceeded
	run.EpicsCreated = 1
	run.StoriesCreated = 2
	run.TasksCreated = 5
	run.ItemsUpdated = 3
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}
	if got.EpicsCreated != 1 || got.StoriesCreated != 2 || got.TasksCreated != 5 || got.ItemsUpdated != 3 {
		t.Errorf("counters = %+v, want the finished values", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishRun must stamp the finish time")
	}
}

func TestFinishRunRecordsError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := NewSyncRun(RunKindClean, "abc123def456", "acme/widgets", true)
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	msg := "provider unavailable"
	run.Status = RunStatusFailed
	run.Error = &msg
	if err := store.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != RunStatusFailed || got.Error == nil || *got.Error != msg {
		t.Errorf("run = %+v, want failed with the error message", got)
	}
	if !got.DryRun {
		t.Error("dry_run flag lost in the round trip")
	}
}

func TestFinishRunUnknownID(t *testing.T) {
	store := newTestStore(t)

	run := NewSyncRun(RunKindSync, "abc123def456", "acme/widgets", false)
	err := store.FinishRun(context.Background(), run)
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("err = %v, want run not found", err)
	}
}

func TestGetRunUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRun(context.Background(), "nope")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("err = %v, want run not found", err)
	}
}

func TestListRunsNewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	var ids []string
	for i := 0; i < 3; i++ {
		run := NewSyncRun(RunKindSync, "abc123def456", "acme/widgets", false)
		run.StartedAt = base.Add(time.Duration(i) * time.Minute)
		if err := store.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
		ids = append(ids, run.ID)
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs out of order: got %s, %s; want %s, %s",
			runs[0].ID, runs[1].ID, ids[2], ids[1])
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	run := NewSyncRun(RunKindSync, "abc123def456", "acme/widgets", false)
	if err := store.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	itemID := "T1"
	events := []*RunEvent{
		{RunID: run.ID, Kind: EventSyncStarted, Message: "sync started"},
		{RunID: run.ID, Kind: EventItemCreated, ItemID: &itemID, Message: "created T1"},
		{RunID: run.ID, Kind: EventSyncCompleted, Message: "sync completed"},
	}
	for _, ev := range events {
		if err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
		if ev.ID == 0 {
			t.Error("AppendEvent must backfill the generated ID")
		}
		if ev.Timestamp.IsZero() {
			t.Error("AppendEvent must stamp a timestamp")
		}
	}

	got, err := store.ListEvents(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Kind != EventSyncStarted || got[2].Kind != EventSyncCompleted {
		t.Errorf("events out of insertion order: %v", got)
	}
	if got[1].ItemID == nil || *got[1].ItemID != "T1" {
		t.Errorf("event item = %v, want T1", got[1].ItemID)
	}
}

func TestHealthCheck(t *testing.T) {
	store := newTestStore(t)
	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	uninit := &SQLiteStore{}
	if err := uninit.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected an error before Init")
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}
