package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

// writeChunk is how many rows are buffered per WriteRows call.
const writeChunk = 1000

// ParquetOptions configure the columnar loader.
type ParquetOptions struct {
	// Dir is the published dataset directory.
	Dir string
	// Compression is snappy, zstd, gzip, or none. Empty means snappy.
	Compression string
}

// Parquet writes snapshots as a directory of parquet file sets, one
// per table, partitioned by the table's partition column.
type Parquet struct {
	catalog *schema.Catalog
	logger  *slog.Logger
}

// NewParquet returns a columnar loader over the catalog. A nil logger
// discards.
func NewParquet(cat *schema.Catalog, logger *slog.Logger) *Parquet {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parquet{catalog: cat, logger: logger}
}

// Write verifies integrity, writes every table under a staging
// directory, and swaps it into place. The previously published
// directory survives any failure.
func (l *Parquet) Write(ctx context.Context, tables map[string]*transform.CanonicalTable, opts ParquetOptions) (*Result, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("parquet output directory not specified")
	}
	codec, err := codecFor(opts.Compression)
	if err != nil {
		return nil, err
	}
	if err := CheckIntegrity(l.catalog, tables); err != nil {
		return nil, err
	}

	staging := opts.Dir + ".staging"
	if err := os.RemoveAll(staging); err != nil {
		return nil, &LoadError{Op: "clear staging", Err: err}
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, &LoadError{Op: "create staging", Err: err}
	}
	published := false
	defer func() {
		if !published {
			os.RemoveAll(staging)
		}
	}()

	res := &Result{}
	for _, name := range sortedNames(tables) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def, err := l.catalog.Table(name)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := l.writeTable(staging, def, tables[name], codec); err != nil {
			return nil, err
		}
		res.Tables = append(res.Tables, TableResult{
			Name:     name,
			Rows:     len(tables[name].Rows),
			Duration: time.Since(start),
		})
		l.logger.Debug("table staged", "table", name, "rows", len(tables[name].Rows))
	}

	if err := publishDir(opts.Dir, staging); err != nil {
		return nil, &LoadError{Op: "promote", Err: err}
	}
	published = true
	l.logger.Info("snapshot published",
		"destination", "parquet",
		"dir", opts.Dir,
		"tables", len(res.Tables),
		"rows", res.Rows())
	return res, nil
}

// writeTable lays one table out as staging/<table>/<table>-<year>.parquet
// per partition year, or a single staging/<table>/<table>.parquet when
// the table has no partition column.
func (l *Parquet) writeTable(staging string, def *schema.Table, ct *transform.CanonicalTable, codec compress.Codec) error {
	dir := filepath.Join(staging, def.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &LoadError{Table: def.Name, Op: "create table dir", Err: err}
	}
	sch := parquetSchema(def)

	if def.PartitionColumn == "" {
		path := filepath.Join(dir, def.Name+".parquet")
		if err := writeTableFile(path, sch, codec, def, ct.Columns, ct.Rows); err != nil {
			return &LoadError{Table: def.Name, Op: "write", Err: err}
		}
		return nil
	}

	pi := ct.ColumnIndex(def.PartitionColumn)
	if pi < 0 {
		return fmt.Errorf("table %s has no column %s", ct.Name, def.PartitionColumn)
	}
	parts := make(map[int64][]transform.Row)
	for _, row := range ct.Rows {
		year, _ := row[pi].(int64)
		parts[year] = append(parts[year], row)
	}
	years := make([]int64, 0, len(parts))
	for y := range parts {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool { return years[i] < years[j] })
	for _, year := range years {
		path := filepath.Join(dir, fmt.Sprintf("%s-%d.parquet", def.Name, year))
		if err := writeTableFile(path, sch, codec, def, ct.Columns, parts[year]); err != nil {
			return &LoadError{Table: def.Name, Op: "write", Err: err}
		}
	}
	return nil
}

func writeTableFile(path string, sch *parquet.Schema, codec compress.Codec, def *schema.Table, columns []string, rows []transform.Row) error {
	colIdx := make(map[string]int, len(columns))
	for i, leaf := range sch.Columns() {
		colIdx[leaf[0]] = i
	}
	required := make(map[string]bool, len(def.Columns))
	for _, col := range def.Columns {
		required[col.Name] = col.Required
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := parquet.NewGenericWriter[any](f, sch, parquet.Compression(codec))
	buf := make([]parquet.Row, 0, writeChunk)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		_, err := w.WriteRows(buf)
		buf = buf[:0]
		return err
	}
	for _, row := range rows {
		buf = append(buf, parquetRow(colIdx, required, columns, row))
		if len(buf) == writeChunk {
			if err := flush(); err != nil {
				f.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// parquetRow places canonical values at the schema's column indexes.
// Optional columns carry definition level 1 when present, dates become
// days since the epoch.
func parquetRow(colIdx map[string]int, required map[string]bool, columns []string, row transform.Row) parquet.Row {
	vals := make([]parquet.Value, len(columns))
	for i, name := range columns {
		ci := colIdx[name]
		v := row[i]
		if v == nil {
			vals[ci] = parquet.NullValue().Level(0, 0, ci)
			continue
		}
		def := 0
		if !required[name] {
			def = 1
		}
		if t, ok := v.(time.Time); ok {
			v = int32(t.Unix() / 86400)
		}
		vals[ci] = parquet.ValueOf(v).Level(0, def, ci)
	}
	return parquet.Row(vals)
}

// parquetSchema builds the file schema for one table. Group fields
// come out in name order, which fixes the column indexes parquetRow
// relies on.
func parquetSchema(def *schema.Table) *parquet.Schema {
	group := parquet.Group{}
	for _, col := range def.Columns {
		var node parquet.Node
		switch col.Kind {
		case schema.KindInteger:
			node = parquet.Int(64)
		case schema.KindDecimal:
			node = parquet.Leaf(parquet.DoubleType)
		case schema.KindDate:
			node = parquet.Date()
		case schema.KindBool:
			node = parquet.Leaf(parquet.BooleanType)
		default:
			node = parquet.String()
		}
		if !col.Required {
			node = parquet.Optional(node)
		}
		group[col.Name] = node
	}
	return parquet.NewSchema(def.Name, group)
}

func codecFor(name string) (compress.Codec, error) {
	switch name {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	}
	return nil, fmt.Errorf("unknown parquet compression %q", name)
}

// publishDir swaps staging into place, keeping the old directory until
// the new one is in.
func publishDir(dir, staging string) error {
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return err
	}
	if _, err := os.Stat(dir); err == nil {
		if err := os.Rename(dir, old); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	if err := os.Rename(staging, dir); err != nil {
		return err
	}
	return os.RemoveAll(old)
}
