package load

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

// CheckIntegrity verifies every foreign key whose target table is part
// of the snapshot. Rows carrying NULL in any referencing column are
// exempt. Violations across all tables are joined so one run reports
// everything.
func CheckIntegrity(cat *schema.Catalog, tables map[string]*transform.CanonicalTable) error {
	var errs []error
	for _, name := range sortedNames(tables) {
		def, err := cat.Table(name)
		if err != nil {
			return err
		}
		for _, fk := range def.ForeignKeys {
			ref, ok := tables[fk.RefTable]
			if !ok {
				continue
			}
			if err := checkForeignKey(tables[name], ref, fk); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func checkForeignKey(ct, ref *transform.CanonicalTable, fk schema.ForeignKey) error {
	refIdx, err := columnIndexes(ref, fk.RefColumns)
	if err != nil {
		return err
	}
	keys := make(map[string]bool, len(ref.Rows))
	for _, row := range ref.Rows {
		keys[rowKey(row, refIdx)] = true
	}

	idx, err := columnIndexes(ct, fk.Columns)
	if err != nil {
		return err
	}
	violations := 0
	sample := ""
	for _, row := range ct.Rows {
		if anyNil(row, idx) {
			continue
		}
		if keys[rowKey(row, idx)] {
			continue
		}
		violations++
		if sample == "" {
			sample = displayKey(row, idx)
		}
	}
	if violations == 0 {
		return nil
	}
	return &IntegrityError{
		Table:    ct.Name,
		RefTable: ref.Name,
		Columns:  fk.Columns,
		Rows:     violations,
		Sample:   sample,
	}
}

func columnIndexes(ct *transform.CanonicalTable, names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		pos := ct.ColumnIndex(name)
		if pos < 0 {
			return nil, fmt.Errorf("table %s has no column %s", ct.Name, name)
		}
		idx[i] = pos
	}
	return idx, nil
}

func anyNil(row transform.Row, idx []int) bool {
	for _, i := range idx {
		if row[i] == nil {
			return true
		}
	}
	return false
}

func rowKey(row transform.Row, idx []int) string {
	parts := make([]string, len(idx))
	for i, pos := range idx {
		parts[i] = keyOf(row[pos])
	}
	return strings.Join(parts, "\x1f")
}

func displayKey(row transform.Row, idx []int) string {
	parts := make([]string, len(idx))
	for i, pos := range idx {
		parts[i] = keyOf(row[pos])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func keyOf(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", x)
	}
}
