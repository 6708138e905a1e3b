package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// InsertBatchSize bounds the rows carried by one INSERT statement.
// SQLite caps bound parameters well below the other engines, so the
// batch stays small enough for every backend.
const InsertBatchSize = 500

// BaseSQLAdapter provides the database/sql plumbing shared by the
// concrete adapters. Embed it and supply the engine pieces: type
// mapping, placeholder style, and the staging strategy.
type BaseSQLAdapter struct {
	DB     *sql.DB
	Cfg    Config
	Logger *slog.Logger
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.DB == nil {
		return nil
	}
	if b.Logger != nil {
		b.Logger.Debug("closing database connection")
	}
	err := b.DB.Close()
	b.DB = nil
	return err
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if _, err := b.DB.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.DB != nil
}

// InsertRowsBatched writes rows with bounded multi-row INSERT
// statements. placeholder renders the n-th bound parameter, 1-based.
func (b *BaseSQLAdapter) InsertRowsBatched(ctx context.Context, table string, columns []string, rows [][]any, placeholder func(int) string) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	for start := 0; start < len(rows); start += InsertBatchSize {
		end := min(start+InsertBatchSize, len(rows))
		batch := rows[start:end]
		args := make([]any, 0, len(batch)*len(columns))
		for _, row := range batch {
			if len(row) != len(columns) {
				return fmt.Errorf("row has %d values, want %d", len(row), len(columns))
			}
			args = append(args, row...)
		}
		if _, err := b.DB.ExecContext(ctx, InsertSQL(table, columns, len(batch), placeholder), args...); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return nil
}

// CreateTableSQL renders DDL for a table. typeOf maps abstract column
// kinds onto engine types.
func CreateTableSQL(tbl Table, typeOf func(ColumnKind) string) string {
	defs := make([]string, 0, len(tbl.Columns)+1+len(tbl.ForeignKeys))
	for _, col := range tbl.Columns {
		def := col.Name + " " + typeOf(col.Kind)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if len(tbl.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(tbl.PrimaryKey, ", ")))
	}
	for _, fk := range tbl.ForeignKeys {
		defs = append(defs, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s)",
			strings.Join(fk.Columns, ", "), fk.RefTable, strings.Join(fk.RefColumns, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", tbl.Name, strings.Join(defs, ",\n  "))
}

// InsertSQL renders a parameterized multi-row INSERT statement.
func InsertSQL(table string, columns []string, nrows int, placeholder func(int) string) string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")
	n := 1
	for r := 0; r < nrows; r++ {
		if r > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range columns {
			if c > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder(n))
			n++
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// QuestionPlaceholder renders ? for engines with positional binding.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder renders $n for postgres-style binding.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
