// Package load publishes canonical snapshots to relational engines and
// parquet directories. Both loaders verify referential integrity over
// the in-memory snapshot first, stage everything, and promote in one
// step, so a failed run never disturbs the published artifact.
package load

import (
	"sort"
	"time"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

// TableResult counts what loading one table did.
type TableResult struct {
	Name     string
	Rows     int
	Duration time.Duration
}

// Result summarizes a published snapshot.
type Result struct {
	Tables []TableResult
}

// Rows returns the total row count across all loaded tables.
func (r *Result) Rows() int {
	n := 0
	for _, t := range r.Tables {
		n += t.Rows
	}
	return n
}

func sortedNames(tables map[string]*transform.CanonicalTable) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tableDef maps a catalog table onto the destination contract. Foreign
// keys whose target is outside the loaded set are dropped so partial
// snapshots still load.
func tableDef(def *schema.Table, present map[string]*transform.CanonicalTable) adapter.Table {
	tbl := adapter.Table{
		Name:       def.Name,
		PrimaryKey: def.NaturalKey,
	}
	for _, col := range def.Columns {
		tbl.Columns = append(tbl.Columns, adapter.Column{
			Name:     col.Name,
			Kind:     columnKind(col.Kind),
			Nullable: !col.Required,
		})
	}
	for _, fk := range def.ForeignKeys {
		if _, ok := present[fk.RefTable]; !ok {
			continue
		}
		tbl.ForeignKeys = append(tbl.ForeignKeys, adapter.ForeignKey{
			Columns:    fk.Columns,
			RefTable:   fk.RefTable,
			RefColumns: fk.RefColumns,
		})
	}
	return tbl
}

// columnKind folds canonical kinds onto the destination kinds.
// Categories are plain text once the enum check has run.
func columnKind(k schema.Kind) adapter.ColumnKind {
	switch k {
	case schema.KindInteger:
		return adapter.KindInteger
	case schema.KindDecimal:
		return adapter.KindDecimal
	case schema.KindDate:
		return adapter.KindDate
	case schema.KindBool:
		return adapter.KindBool
	default:
		return adapter.KindText
	}
}
