package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func int64Ptr(v int64) *int64 { return &v }
func strPtr(s string) *string { return &s }

func TestStore_RecordAndLatestAttempt(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	completed := time.Now().UTC()
	id, err := store.RecordAttempt(ctx, &AttemptRecord{
		Target:      "box",
		Branch:      "main",
		Status:      "succeeded",
		StartedAt:   completed.Add(-3 * time.Second),
		CompletedAt: &completed,
		DurationMs:  int64Ptr(3000),
		Steps: []StepRecord{
			{Index: 0, Command: "git fetch origin main", ExitCode: 0, Output: "fetched\n", DurationMs: 1200},
			{Index: 1, Command: "git reset --hard origin/main", ExitCode: 0, DurationMs: 800},
		},
	})
	if err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero attempt ID")
	}

	record, err := store.LatestAttempt(ctx, "box")
	if err != nil {
		t.Fatalf("LatestAttempt failed: %v", err)
	}
	if record == nil {
		t.Fatal("expected a record")
	}

	if record.Target != "box" || record.Branch != "main" || record.Status != "succeeded" {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.CompletedAt == nil {
		t.Error("expected completed_at to round-trip")
	}
	if record.DurationMs == nil || *record.DurationMs != 3000 {
		t.Errorf("unexpected duration: %v", record.DurationMs)
	}
	if len(record.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(record.Steps))
	}
	if record.Steps[0].Command != "git fetch origin main" || record.Steps[0].Output != "fetched\n" {
		t.Errorf("unexpected step 0: %+v", record.Steps[0])
	}
	if record.Steps[1].Index != 1 {
		t.Errorf("steps out of order: %+v", record.Steps)
	}
}

func TestStore_LatestAttemptNone(t *testing.T) {
	store := testStore(t)

	record, err := store.LatestAttempt(context.Background(), "never-deployed")
	if err != nil {
		t.Fatalf("LatestAttempt failed: %v", err)
	}
	if record != nil {
		t.Errorf("expected nil record, got %+v", record)
	}
}

func TestStore_RecordFailedAttempt(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	_, err := store.RecordAttempt(ctx, &AttemptRecord{
		Target:       "box",
		Branch:       "main",
		Status:       "failed",
		StartedAt:    time.Now(),
		ErrorMessage: strPtr("remote command 1 exited with code 128"),
		Steps: []StepRecord{
			{Index: 0, Command: "git fetch origin main", ExitCode: 0, DurationMs: 100},
			{Index: 1, Command: "git reset --hard origin/main", ExitCode: 128, Output: "fatal\n", DurationMs: 50},
		},
	})
	if err != nil {
		t.Fatalf("RecordAttempt failed: %v", err)
	}

	record, err := store.LatestAttempt(ctx, "box")
	if err != nil {
		t.Fatalf("LatestAttempt failed: %v", err)
	}
	if record.ErrorMessage == nil || *record.ErrorMessage == "" {
		t.Error("expected error message to be stored")
	}
	// Terminal statuses get a completed_at even when the caller omits it.
	if record.CompletedAt == nil {
		t.Error("expected completed_at to be defaulted for terminal status")
	}
}

func TestStore_AttemptHistory(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		status := "succeeded"
		if i%2 == 1 {
			status = "failed"
		}
		if _, err := store.RecordAttempt(ctx, &AttemptRecord{
			Target:    "box",
			Branch:    "main",
			Status:    status,
			StartedAt: time.Now(),
		}); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	records, err := store.AttemptHistory(ctx, "box", 3)
	if err != nil {
		t.Fatalf("AttemptHistory failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	// Newest first.
	if records[0].ID <= records[1].ID || records[1].ID <= records[2].ID {
		t.Errorf("records not ordered newest first: %v %v %v", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestStore_AllTargetsStatus(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	attempts := []struct {
		target string
		status string
	}{
		{"alpha", "failed"},
		{"alpha", "succeeded"},
		{"beta", "timed_out"},
	}
	for _, a := range attempts {
		if _, err := store.RecordAttempt(ctx, &AttemptRecord{
			Target:    a.target,
			Branch:    "main",
			Status:    a.status,
			StartedAt: time.Now(),
		}); err != nil {
			t.Fatalf("RecordAttempt failed: %v", err)
		}
	}

	statuses, err := store.AllTargetsStatus(ctx)
	if err != nil {
		t.Fatalf("AllTargetsStatus failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(statuses))
	}
	if statuses["alpha"].Status != "succeeded" {
		t.Errorf("expected latest alpha attempt, got %s", statuses["alpha"].Status)
	}
	if statuses["beta"].Status != "timed_out" {
		t.Errorf("expected beta timed_out, got %s", statuses["beta"].Status)
	}
}
