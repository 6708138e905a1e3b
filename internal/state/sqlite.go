package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // sqlite driver
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
// If logger is nil, a discard logger is used.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise see its own empty
		// memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// generateID creates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// --- Run operations ---

// CreateRun creates a new pipeline run in the running state.
func (s *SQLiteStore) CreateRun() (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{
		ID:        generateID(),
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	s.logger.Debug("creating run", slog.String("id", run.ID))

	_, err := s.db.Exec(
		`INSERT INTO runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Status, run.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(id string) (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{}
	var completedAt sql.NullTime
	var errMsg sql.NullString

	err := s.db.QueryRow(
		`SELECT id, status, started_at, completed_at, error FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Status, &run.StartedAt, &completedAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if errMsg.Valid {
		run.Error = errMsg.String
	}
	return run, nil
}

// CompleteRun marks a run as finished with the given status.
func (s *SQLiteStore) CompleteRun(id string, status RunStatus, errMsg string) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	now := time.Now().UTC()
	var errorPtr *string
	if errMsg != "" {
		errorPtr = &errMsg
	}

	res, err := s.db.Exec(
		`UPDATE runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status, now, errorPtr, id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetLatestRun retrieves the most recent run, or nil when none exist.
func (s *SQLiteStore) GetLatestRun() (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	var id string
	err := s.db.QueryRow(
		`SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return s.GetRun(id)
}

// ListRuns retrieves the most recent runs up to the given limit.
func (s *SQLiteStore) ListRuns(limit int) ([]*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, status, started_at, completed_at, error
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var completedAt sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(&run.ID, &run.Status, &run.StartedAt, &completedAt, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			run.CompletedAt = &t
		}
		if errMsg.Valid {
			run.Error = errMsg.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// --- Partition event operations ---

// RecordPartitionEvent appends one partition event to a run.
func (s *SQLiteStore) RecordPartitionEvent(ev PartitionEvent) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO partition_events (run_id, source, table_name, year, event, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Source, ev.Table, ev.Year, ev.Event, ev.Detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record partition event: %w", err)
	}
	return nil
}

// ListPartitionEvents retrieves a run's partition events in insertion
// order.
func (s *SQLiteStore) ListPartitionEvents(runID string) ([]*PartitionEvent, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, source, table_name, year, event, detail, created_at
		 FROM partition_events WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list partition events: %w", err)
	}
	defer rows.Close()

	var events []*PartitionEvent
	for rows.Next() {
		ev := &PartitionEvent{}
		var detail sql.NullString
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Source, &ev.Table, &ev.Year, &ev.Event, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partition event: %w", err)
		}
		if detail.Valid {
			ev.Detail = detail.String
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- Table load operations ---

// RecordTableLoad appends one published table result to a run.
func (s *SQLiteStore) RecordTableLoad(tl TableLoad) error {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}

	_, err := s.db.Exec(
		`INSERT INTO table_loads (run_id, table_name, row_count, duration_ms, destination, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		tl.RunID, tl.Table, tl.Rows, tl.Duration.Milliseconds(), tl.Destination, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record table load: %w", err)
	}
	return nil
}

// ListTableLoads retrieves a run's table loads in insertion order.
func (s *SQLiteStore) ListTableLoads(runID string) ([]*TableLoad, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT id, run_id, table_name, row_count, duration_ms, destination, created_at
		 FROM table_loads WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list table loads: %w", err)
	}
	defer rows.Close()

	var loads []*TableLoad
	for rows.Next() {
		tl := &TableLoad{}
		var ms int64
		if err := rows.Scan(&tl.ID, &tl.RunID, &tl.Table, &tl.Rows, &ms, &tl.Destination, &tl.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan table load: %w", err)
		}
		tl.Duration = time.Duration(ms) * time.Millisecond
		loads = append(loads, tl)
	}
	return loads, rows.Err()
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
