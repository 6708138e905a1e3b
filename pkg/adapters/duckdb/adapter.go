// Package duckdb provides the DuckDB destination adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/leapstack-labs/gridetl/pkg/adapter"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

// Adapter implements the adapter.Adapter interface for DuckDB.
// Writes land in a sibling staging file; Promote renames it over the
// published path. ":memory:" skips staging, there is nothing durable
// to publish.
type Adapter struct {
	adapter.BaseSQLAdapter
	staging string
	mem     bool
}

// New creates a DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens the staging database for the configured path.
// Use ":memory:" for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	if cfg.Path == "" {
		return fmt.Errorf("duckdb destination requires a path")
	}

	open := cfg.Path
	if cfg.Path != ":memory:" {
		open = cfg.Path + ".staging"
		if err := os.Remove(open); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to clear stale staging file: %w", err)
		}
	}

	db, err := sql.Open("duckdb", open)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.mem = cfg.Path == ":memory:"
	if !a.mem {
		a.staging = open
		a.Logger.Debug("opened duckdb staging database", slog.String("path", open))
	}
	return nil
}

// CreateTable creates a staged table with its declared keys.
func (a *Adapter) CreateTable(ctx context.Context, tbl adapter.Table) error {
	if err := a.Exec(ctx, adapter.CreateTableSQL(tbl, typeOf)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tbl.Name, err)
	}
	return nil
}

// InsertRows appends rows to a staged table. The driver takes
// time.Time and bool natively.
func (a *Adapter) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	return a.InsertRowsBatched(ctx, table, columns, rows, adapter.QuestionPlaceholder)
}

// Promote closes the staging database and renames it into place.
func (a *Adapter) Promote(_ context.Context) error {
	if a.mem {
		return nil
	}
	if a.staging == "" {
		return fmt.Errorf("nothing staged")
	}
	if err := a.Close(); err != nil {
		return fmt.Errorf("failed to close staging database: %w", err)
	}
	if err := os.Rename(a.staging, a.Cfg.Path); err != nil {
		return fmt.Errorf("failed to publish database: %w", err)
	}
	a.Logger.Info("published duckdb database", slog.String("path", a.Cfg.Path))
	a.staging = ""
	return nil
}

// Discard drops the staging file. After a Promote it is a no-op.
func (a *Adapter) Discard() error {
	if a.mem || a.staging == "" {
		return nil
	}
	_ = a.Close()
	if err := os.Remove(a.staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	a.staging = ""
	return nil
}

// typeOf maps abstract column kinds onto DuckDB types.
func typeOf(k adapter.ColumnKind) string {
	switch k {
	case adapter.KindInteger:
		return "BIGINT"
	case adapter.KindDecimal:
		return "DOUBLE"
	case adapter.KindDate:
		return "DATE"
	case adapter.KindBool:
		return "BOOLEAN"
	default:
		return "VARCHAR"
	}
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
