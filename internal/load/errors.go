package load

import "fmt"

// LoadError wraps a destination failure: connecting, staging DDL,
// inserts, or the promote step. By the time it surfaces the staged
// snapshot has been discarded and the published one is untouched.
type LoadError struct {
	// Table is the table being loaded, empty for snapshot-level steps.
	Table string
	Op    string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("loading snapshot: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("loading %s: %s: %v", e.Table, e.Op, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IntegrityError reports rows whose foreign key has no referenced row.
// It is raised over the in-memory snapshot before any destination work
// starts.
type IntegrityError struct {
	Table    string
	RefTable string
	Columns  []string
	// Rows counts the violating rows, Sample shows the first missing
	// key.
	Rows   int
	Sample string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed: %d %s rows reference missing %s rows over %v, first %s",
		e.Rows, e.Table, e.RefTable, e.Columns, e.Sample)
}
