// Package extract parses cached source archives into raw tabular form.
// The extractor set is closed: one extractor per source id, compiled in,
// because the source list is versioned with the schema release.
package extract

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Partition identifies one extractable unit of one source.
type Partition struct {
	Source string
	Table  string
	// Year is zero for unpartitioned sources.
	Year int
	// Parts holds extra selectors, e.g. state for hourly emissions.
	Parts map[string]string
}

// Period renders the time component of the partition.
func (p Partition) Period() string {
	switch {
	case p.Year == 0:
		return "all"
	case p.Parts["state"] != "":
		return strconv.Itoa(p.Year) + "-" + p.Parts["state"]
	default:
		return strconv.Itoa(p.Year)
	}
}

func (p Partition) String() string {
	return p.Source + "/" + p.Table + "/" + p.Period()
}

// RawTable is the parsed but unnormalized content of one partition.
// Columns carry source-native names; rows preserve file order.
type RawTable struct {
	Columns []string
	Rows    [][]string
}

// ColumnIndex returns the position of a native column, or -1.
func (rt *RawTable) ColumnIndex(name string) int {
	for i, c := range rt.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// RowPolicy decides what a malformed row does to its partition.
type RowPolicy string

const (
	// PolicyDefault defers to the extractor's own default.
	PolicyDefault RowPolicy = ""
	// PolicySkip drops malformed rows, counting and logging each.
	PolicySkip RowPolicy = "skip"
	// PolicyAbort fails the partition on the first malformed row.
	PolicyAbort RowPolicy = "abort"
)

// Options tune one extraction call.
type Options struct {
	Policy RowPolicy
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o Options) policy(fallback RowPolicy) RowPolicy {
	if o.Policy == PolicyDefault {
		return fallback
	}
	return o.Policy
}

// Stats reports what one extraction read.
type Stats struct {
	Rows    int
	Skipped int
}

// ExtractionError attributes a parse failure to its partition. Row is
// 1-based within the named member and zero for structural failures.
type ExtractionError struct {
	Partition Partition
	Member    string
	Row       int
	Err       error
}

func (e *ExtractionError) Error() string {
	switch {
	case e.Member == "":
		return fmt.Sprintf("extracting %s: %v", e.Partition, e.Err)
	case e.Row == 0:
		return fmt.Sprintf("extracting %s (%s): %v", e.Partition, e.Member, e.Err)
	default:
		return fmt.Sprintf("extracting %s (%s row %d): %v", e.Partition, e.Member, e.Row, e.Err)
	}
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
