package transform

import (
	"fmt"

	"github.com/leapstack-labs/gridetl/internal/extract"
)

// SchemaError reports a partition that cannot be shaped into its
// canonical table. Row is the 1-based raw row, zero for structural
// problems like a missing required column.
type SchemaError struct {
	Table     string
	Column    string
	Partition extract.Partition
	Row       int
	Err       error
}

func (e *SchemaError) Error() string {
	msg := fmt.Sprintf("normalizing %s", e.Partition)
	if e.Column != "" {
		msg += ": column " + e.Column
	}
	if e.Row > 0 {
		msg += fmt.Sprintf(" (row %d)", e.Row)
	}
	return msg + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}
