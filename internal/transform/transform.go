// Package transform shapes raw partition rows into the canonical
// schema: per-era column mapping, type coercion, natural key dedup,
// and unit conversion. Normalization is deterministic per partition;
// merged output is identical under any partition order.
package transform

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/leapstack-labs/gridetl/internal/extract"
	"github.com/leapstack-labs/gridetl/internal/schema"
)

// Row is one canonical record. Values are int64, float64, string,
// bool, time.Time, or nil.
type Row []any

// CanonicalTable holds normalized rows of one canonical table, sorted
// by natural key.
type CanonicalTable struct {
	Name          string
	Columns       []string
	Rows          []Row
	SchemaVersion string
	// UnitsApplied marks that unit conversions ran, so merged
	// partitions can be checked for agreement and never rescaled.
	UnitsApplied bool
}

// ColumnIndex returns the position of a canonical column, or -1.
func (ct *CanonicalTable) ColumnIndex(name string) int {
	for i, c := range ct.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Stats counts what normalization did to one partition.
type Stats struct {
	Rows int
	// Nulled counts lenient coercion failures nulled in optional
	// columns, Rejected lenient rows dropped over a required column.
	Nulled   int
	Rejected int
	// Dropped counts natural key duplicates, Converted applied unit
	// conversions.
	Dropped   int
	Converted int
}

// Options tune a Normalizer.
type Options struct {
	// Strictness is strict or lenient; empty means strict.
	Strictness string
	Logger     *slog.Logger
}

// Normalizer maps raw tables into canonical ones.
type Normalizer struct {
	catalog *schema.Catalog
	maps    map[string]*sourceMap
	strict  bool
	logger  *slog.Logger
}

// New builds a Normalizer, loading and checking the embedded column
// maps against the catalog.
func New(catalog *schema.Catalog, opts Options) (*Normalizer, error) {
	switch opts.Strictness {
	case "", "strict", "lenient":
	default:
		return nil, fmt.Errorf("unknown strictness %q", opts.Strictness)
	}
	maps, err := loadMaps(catalog)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Normalizer{
		catalog: catalog,
		maps:    maps,
		strict:  opts.Strictness != "lenient",
		logger:  logger,
	}, nil
}

// binding resolves one canonical column against a raw table: a raw
// column index, a partition stamp, or neither (null fill).
type binding struct {
	col    schema.Column
	rawIdx int
	stamp  any
	factor float64
	cats   map[string]string
}

// Normalize shapes one partition's raw rows into its canonical table.
func (n *Normalizer) Normalize(part extract.Partition, raw *extract.RawTable) (*CanonicalTable, Stats, error) {
	var stats Stats
	tbl, err := n.catalog.Table(part.Table)
	if err != nil {
		return nil, stats, err
	}
	if tbl.Source != part.Source {
		return nil, stats, fmt.Errorf("table %s is fed by source %s, not %s", tbl.Name, tbl.Source, part.Source)
	}
	tm := n.maps[part.Source].Tables[part.Table]
	rev, err := tm.revisionFor(part.Table, part.Year)
	if err != nil {
		return nil, stats, &SchemaError{Table: tbl.Name, Partition: part, Err: err}
	}

	bindings := make([]binding, len(tbl.Columns))
	for i, col := range tbl.Columns {
		b := binding{col: col, rawIdx: -1, cats: tm.Categories[col.Name]}
		if u, ok := tm.Units[col.Name]; ok {
			b.factor = u.Factor
		}
		if src, ok := rev.Columns[col.Name]; ok {
			idx := raw.ColumnIndex(src)
			if idx < 0 {
				if col.Required {
					return nil, stats, &SchemaError{Table: tbl.Name, Column: col.Name, Partition: part,
						Err: fmt.Errorf("source column %q missing from input", src)}
				}
				n.logger.Debug("optional source column absent",
					"partition", part.String(), "column", col.Name, "source_column", src)
			}
			b.rawIdx = idx
		} else if field, ok := rev.Partition[col.Name]; ok {
			stamp, err := partitionValue(part, field)
			if err != nil {
				return nil, stats, &SchemaError{Table: tbl.Name, Column: col.Name, Partition: part, Err: err}
			}
			b.stamp = stamp
		}
		bindings[i] = b
	}

	nkIdx := keyIndexes(tbl.NaturalKey, tbl.ColumnNames())
	seen := make(map[string]bool, len(raw.Rows))
	rows := make([]Row, 0, len(raw.Rows))
	for r, rec := range raw.Rows {
		row, err := n.buildRow(rec, bindings, tbl, part, r+1, &stats)
		if err != nil {
			var serr *SchemaError
			if errors.As(err, &serr) {
				return nil, stats, err
			}
			stats.Rejected++
			n.logger.Warn("dropping row", "partition", part.String(), "row", r+1, "error", err)
			continue
		}
		key := rowKey(row, nkIdx)
		if seen[key] {
			stats.Dropped++
			n.logger.Debug("dropping duplicate natural key",
				"partition", part.String(), "row", r+1, "key", displayKey(key))
			continue
		}
		seen[key] = true
		rows = append(rows, row)
	}
	sortRows(rows, nkIdx)
	stats.Rows = len(rows)

	return &CanonicalTable{
		Name:          tbl.Name,
		Columns:       tbl.ColumnNames(),
		Rows:          rows,
		SchemaVersion: n.catalog.Version,
		UnitsApplied:  true,
	}, stats, nil
}

func (n *Normalizer) buildRow(rec []string, bindings []binding, tbl *schema.Table, part extract.Partition, rowNum int, stats *Stats) (Row, error) {
	row := make(Row, len(bindings))
	for i, b := range bindings {
		var v any
		if b.stamp != nil {
			v = b.stamp
		} else if b.rawIdx >= 0 {
			coerced, err := coerce(rec[b.rawIdx], b.col, b.cats)
			if err != nil {
				if n.strict {
					return nil, &SchemaError{Table: tbl.Name, Column: b.col.Name, Partition: part, Row: rowNum, Err: err}
				}
				if b.col.Required {
					return nil, fmt.Errorf("column %s: %w", b.col.Name, err)
				}
				stats.Nulled++
				n.logger.Debug("nulling unparseable cell",
					"partition", part.String(), "column", b.col.Name, "row", rowNum, "error", err)
				coerced = nil
			}
			v = coerced
		}
		if v == nil && b.col.Required {
			if n.strict {
				return nil, &SchemaError{Table: tbl.Name, Column: b.col.Name, Partition: part, Row: rowNum,
					Err: errors.New("required value is empty")}
			}
			return nil, fmt.Errorf("column %s: required value is empty", b.col.Name)
		}
		if v != nil && b.factor != 0 {
			if f, ok := v.(float64); ok {
				v = roundTo(f*b.factor, b.col.Scale)
				stats.Converted++
			}
		}
		row[i] = v
	}
	return row, nil
}

func partitionValue(part extract.Partition, field string) (any, error) {
	switch field {
	case "year":
		if part.Year == 0 {
			return nil, errors.New("partition has no year")
		}
		return int64(part.Year), nil
	case "state":
		v := part.Parts["state"]
		if v == "" {
			return nil, errors.New("partition has no state")
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown partition field %q", field)
}

// Merge combines per-partition outputs of one canonical table. The
// partitions must agree on schema; their natural keys must be
// disjoint.
func Merge(tbl *schema.Table, parts []*CanonicalTable) (*CanonicalTable, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no partitions to merge for table %s", tbl.Name)
	}
	base := parts[0]
	if base.Name != tbl.Name {
		return nil, fmt.Errorf("merging %s output into table %s", base.Name, tbl.Name)
	}
	if !slices.Equal(base.Columns, tbl.ColumnNames()) {
		return nil, fmt.Errorf("partition output for table %s disagrees with the catalog columns", tbl.Name)
	}
	for _, p := range parts[1:] {
		if p.Name != base.Name || p.SchemaVersion != base.SchemaVersion ||
			p.UnitsApplied != base.UnitsApplied || !slices.Equal(p.Columns, base.Columns) {
			return nil, fmt.Errorf("partition outputs for table %s disagree on schema", tbl.Name)
		}
	}

	nkIdx := keyIndexes(tbl.NaturalKey, base.Columns)
	merged := &CanonicalTable{
		Name:          base.Name,
		Columns:       slices.Clone(base.Columns),
		SchemaVersion: base.SchemaVersion,
		UnitsApplied:  base.UnitsApplied,
	}
	seen := make(map[string]bool)
	for _, p := range parts {
		for _, row := range p.Rows {
			key := rowKey(row, nkIdx)
			if seen[key] {
				return nil, fmt.Errorf("duplicate natural key %s across partitions of %s", displayKey(key), tbl.Name)
			}
			seen[key] = true
			merged.Rows = append(merged.Rows, row)
		}
	}
	sortRows(merged.Rows, nkIdx)
	return merged, nil
}

// NewTable wraps rows produced outside the normalizer, sorting by
// natural key and rejecting duplicates. The entity tables are built
// this way.
func NewTable(tbl *schema.Table, version string, rows []Row) (*CanonicalTable, error) {
	names := tbl.ColumnNames()
	nkIdx := keyIndexes(tbl.NaturalKey, names)
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("table %s: row has %d values, want %d", tbl.Name, len(row), len(names))
		}
		key := rowKey(row, nkIdx)
		if seen[key] {
			return nil, fmt.Errorf("duplicate natural key %s in table %s", displayKey(key), tbl.Name)
		}
		seen[key] = true
	}
	sortRows(rows, nkIdx)
	return &CanonicalTable{
		Name:          tbl.Name,
		Columns:       names,
		Rows:          rows,
		SchemaVersion: version,
		UnitsApplied:  true,
	}, nil
}

func keyIndexes(key []string, columns []string) []int {
	out := make([]int, len(key))
	for i, name := range key {
		out[i] = slices.Index(columns, name)
	}
	return out
}

func rowKey(row Row, nkIdx []int) string {
	parts := make([]string, len(nkIdx))
	for i, idx := range nkIdx {
		parts[i] = valueKey(row[idx])
	}
	return strings.Join(parts, "\x1f")
}

func displayKey(key string) string {
	return strings.ReplaceAll(key, "\x1f", "/")
}

func sortRows(rows []Row, nkIdx []int) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, idx := range nkIdx {
			if c := compareValues(rows[i][idx], rows[j][idx]); c != 0 {
				return c < 0
			}
		}
		return false
	})
}
