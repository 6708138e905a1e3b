// Package state keeps run bookkeeping in a SQLite database separate
// from the output destination: runs, per-partition events, and
// per-table load results.
package state

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is one pipeline invocation.
type Run struct {
	ID          string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Partition event kinds.
const (
	EventFetched   = "fetched"
	EventValidated = "validated"
	EventCached    = "cached"
	EventExtracted = "extracted"
	EventSkipped   = "skipped"
	EventFailed    = "failed"
)

// PartitionEvent records one thing that happened to one (source,
// table, year) partition during a run.
type PartitionEvent struct {
	ID        int64
	RunID     string
	Source    string
	Table     string
	Year      int
	Event     string
	Detail    string
	CreatedAt time.Time
}

// TableLoad records one table published by a run.
type TableLoad struct {
	ID          int64
	RunID       string
	Table       string
	Rows        int64
	Duration    time.Duration
	Destination string
	CreatedAt   time.Time
}

// Store is the write side of run bookkeeping. The pipeline treats a
// nil store as disabled.
type Store interface {
	CreateRun() (*Run, error)
	CompleteRun(id string, status RunStatus, errMsg string) error
	RecordPartitionEvent(ev PartitionEvent) error
	RecordTableLoad(tl TableLoad) error
}
