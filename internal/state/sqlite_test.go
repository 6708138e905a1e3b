package state

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(nil)
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_OpenClose(t *testing.T) {
	store := NewSQLiteStore(nil)

	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestSQLiteStore_Migrate(t *testing.T) {
	store := NewSQLiteStore(nil)
	if err := store.Open(":memory:"); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	// Verify tables exist by querying them
	tables := []string{"runs", "partition_events", "table_loads"}
	for _, table := range tables {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		if err != nil {
			t.Errorf("table %s does not exist: %v", table, err)
		} else {
			rows.Close()
		}
	}

	version, err := store.GetMigrationVersion()
	if err != nil {
		t.Fatalf("failed to get migration version: %v", err)
	}
	if version != 2 {
		t.Errorf("expected migration version 2, got %d", version)
	}

	// A second Migrate is a no-op
	if err := store.Migrate(); err != nil {
		t.Fatalf("re-running migrations failed: %v", err)
	}
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	tests := []struct {
		name      string
		operation func(t *testing.T, store *SQLiteStore, run *Run)
		verify    func(t *testing.T, store *SQLiteStore, run *Run)
	}{
		{
			name: "create run",
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				if run.ID == "" {
					t.Error("run ID should not be empty")
				}
				if run.Status != RunStatusRunning {
					t.Errorf("expected status running, got %q", run.Status)
				}
				if run.CompletedAt != nil {
					t.Error("new run should have no completion time")
				}
			},
		},
		{
			name: "complete run",
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				if err := store.CompleteRun(run.ID, RunStatusCompleted, ""); err != nil {
					t.Fatalf("failed to complete run: %v", err)
				}
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				got, err := store.GetRun(run.ID)
				if err != nil {
					t.Fatalf("failed to get run: %v", err)
				}
				if got.Status != RunStatusCompleted {
					t.Errorf("expected status completed, got %q", got.Status)
				}
				if got.CompletedAt == nil {
					t.Error("completed run should have a completion time")
				}
				if got.Error != "" {
					t.Errorf("expected no error message, got %q", got.Error)
				}
			},
		},
		{
			name: "fail run with error",
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				if err := store.CompleteRun(run.ID, RunStatusFailed, "fetching eia860 2020: 404"); err != nil {
					t.Fatalf("failed to fail run: %v", err)
				}
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				got, err := store.GetRun(run.ID)
				if err != nil {
					t.Fatalf("failed to get run: %v", err)
				}
				if got.Status != RunStatusFailed {
					t.Errorf("expected status failed, got %q", got.Status)
				}
				if got.Error != "fetching eia860 2020: 404" {
					t.Errorf("unexpected error message: %q", got.Error)
				}
			},
		},
		{
			name: "cancel run",
			operation: func(t *testing.T, store *SQLiteStore, run *Run) {
				if err := store.CompleteRun(run.ID, RunStatusCancelled, "context canceled"); err != nil {
					t.Fatalf("failed to cancel run: %v", err)
				}
			},
			verify: func(t *testing.T, store *SQLiteStore, run *Run) {
				got, err := store.GetRun(run.ID)
				if err != nil {
					t.Fatalf("failed to get run: %v", err)
				}
				if got.Status != RunStatusCancelled {
					t.Errorf("expected status cancelled, got %q", got.Status)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := setupTestStore(t)
			run, err := store.CreateRun()
			if err != nil {
				t.Fatalf("failed to create run: %v", err)
			}
			if tt.operation != nil {
				tt.operation(t, store, run)
			}
			tt.verify(t, store, run)
		})
	}
}

func TestSQLiteStore_CompleteUnknownRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.CompleteRun("no-such-run", RunStatusCompleted, "")
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Errorf("expected run not found error, got %v", err)
	}
}

func TestSQLiteStore_GetLatestRun(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.GetLatestRun()
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if latest != nil {
		t.Fatalf("expected no latest run, got %+v", latest)
	}

	first, err := store.CreateRun()
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := store.CreateRun()
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	latest, err = store.GetLatestRun()
	if err != nil {
		t.Fatalf("failed to get latest run: %v", err)
	}
	if latest == nil || latest.ID != second.ID {
		t.Errorf("expected latest run %s, got %+v", second.ID, latest)
	}
	_ = first
}

func TestSQLiteStore_ListRuns(t *testing.T) {
	store := setupTestStore(t)

	var ids []string
	for i := 0; i < 3; i++ {
		run, err := store.CreateRun()
		if err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		ids = append(ids, run.ID)
		time.Sleep(5 * time.Millisecond)
	}
	if err := store.CompleteRun(ids[2], RunStatusCompleted, ""); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	runs, err := store.ListRuns(2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != ids[2] || runs[1].ID != ids[1] {
		t.Errorf("runs not in newest-first order: %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].Status != RunStatusCompleted {
		t.Errorf("expected newest run completed, got %q", runs[0].Status)
	}
}

func TestSQLiteStore_PartitionEvents(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	events := []PartitionEvent{
		{RunID: run.ID, Source: "eia860", Table: "utilities_eia860", Year: 2020, Event: EventFetched, Detail: "12.4 MB"},
		{RunID: run.ID, Source: "eia860", Table: "utilities_eia860", Year: 2020, Event: EventExtracted},
		{RunID: run.ID, Source: "epacems", Table: "hourly_emissions_epacems", Year: 2020, Event: EventSkipped, Detail: "optional partition: 404"},
	}
	for _, ev := range events {
		if err := store.RecordPartitionEvent(ev); err != nil {
			t.Fatalf("failed to record event: %v", err)
		}
	}

	got, err := store.ListPartitionEvents(run.ID)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].Event != EventFetched || got[0].Detail != "12.4 MB" {
		t.Errorf("unexpected first event: %+v", got[0])
	}
	if got[1].Detail != "" {
		t.Errorf("expected empty detail, got %q", got[1].Detail)
	}
	if got[2].Source != "epacems" || got[2].Year != 2020 {
		t.Errorf("unexpected third event: %+v", got[2])
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("event should carry a creation time")
	}

	other, err := store.ListPartitionEvents("other-run")
	if err != nil {
		t.Fatalf("failed to list events for other run: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no events for other run, got %d", len(other))
	}
}

func TestSQLiteStore_TableLoads(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	load := TableLoad{
		RunID:       run.ID,
		Table:       "utilities",
		Rows:        1204,
		Duration:    1500 * time.Millisecond,
		Destination: "sqlite",
	}
	if err := store.RecordTableLoad(load); err != nil {
		t.Fatalf("failed to record table load: %v", err)
	}

	got, err := store.ListTableLoads(run.ID)
	if err != nil {
		t.Fatalf("failed to list table loads: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 table load, got %d", len(got))
	}
	if got[0].Table != "utilities" || got[0].Rows != 1204 {
		t.Errorf("unexpected table load: %+v", got[0])
	}
	if got[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", got[0].Duration)
	}
	if got[0].Destination != "sqlite" {
		t.Errorf("expected destination sqlite, got %q", got[0].Destination)
	}
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)

	if _, err := store.CreateRun(); err == nil || !strings.Contains(err.Error(), "database not opened") {
		t.Errorf("CreateRun: expected not-opened error, got %v", err)
	}
	if err := store.RecordPartitionEvent(PartitionEvent{}); err == nil || !strings.Contains(err.Error(), "database not opened") {
		t.Errorf("RecordPartitionEvent: expected not-opened error, got %v", err)
	}
	if err := store.Migrate(); err == nil || !strings.Contains(err.Error(), "database not opened") {
		t.Errorf("Migrate: expected not-opened error, got %v", err)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store := NewSQLiteStore(nil)
	if err := store.Open(path); err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	run, err := store.CreateRun()
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	reopened := NewSQLiteStore(nil)
	if err := reopened.Open(path); err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Migrate(); err != nil {
		t.Fatalf("migrations on an up-to-date store failed: %v", err)
	}

	got, err := reopened.GetRun(run.ID)
	if err != nil {
		t.Fatalf("failed to get run after reopen: %v", err)
	}
	if got.ID != run.ID || got.Status != RunStatusRunning {
		t.Errorf("unexpected run after reopen: %+v", got)
	}
}
