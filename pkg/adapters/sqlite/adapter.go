// Package sqlite provides the SQLite destination adapter.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/leapstack-labs/gridetl/pkg/adapter"

	_ "modernc.org/sqlite" // sqlite driver
)

// Adapter implements the adapter.Adapter interface for SQLite.
// Writes land in a sibling staging file; Promote renames it over the
// published path, which on one filesystem is atomic.
type Adapter struct {
	adapter.BaseSQLAdapter
	staging string
}

// New creates a SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect opens the staging database next to the configured path.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	if cfg.Path == "" {
		return fmt.Errorf("sqlite destination requires a path")
	}
	staging := cfg.Path + ".staging"
	if err := os.Remove(staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear stale staging file: %w", err)
	}

	db, err := sql.Open("sqlite", staging)
	if err != nil {
		return fmt.Errorf("failed to open sqlite staging database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.staging = staging
	a.Logger.Debug("opened sqlite staging database", slog.String("path", staging))
	return nil
}

// CreateTable creates a staged table with its declared keys.
func (a *Adapter) CreateTable(ctx context.Context, tbl adapter.Table) error {
	if err := a.Exec(ctx, adapter.CreateTableSQL(tbl, typeOf)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tbl.Name, err)
	}
	return nil
}

// InsertRows appends rows, rendering values into the forms SQLite
// stores cleanly: dates as ISO text, bools as 0/1.
func (a *Adapter) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	converted := make([][]any, len(rows))
	for i, row := range rows {
		out := make([]any, len(row))
		for j, v := range row {
			switch x := v.(type) {
			case time.Time:
				out[j] = x.Format("2006-01-02")
			case bool:
				if x {
					out[j] = int64(1)
				} else {
					out[j] = int64(0)
				}
			default:
				out[j] = v
			}
		}
		converted[i] = out
	}
	return a.InsertRowsBatched(ctx, table, columns, converted, adapter.QuestionPlaceholder)
}

// Promote closes the staging database and renames it into place.
func (a *Adapter) Promote(_ context.Context) error {
	if a.staging == "" {
		return fmt.Errorf("nothing staged")
	}
	if err := a.Close(); err != nil {
		return fmt.Errorf("failed to close staging database: %w", err)
	}
	if err := os.Rename(a.staging, a.Cfg.Path); err != nil {
		return fmt.Errorf("failed to publish database: %w", err)
	}
	a.Logger.Info("published sqlite database", slog.String("path", a.Cfg.Path))
	a.staging = ""
	return nil
}

// Discard drops the staging file. After a Promote it is a no-op.
func (a *Adapter) Discard() error {
	if a.staging == "" {
		return nil
	}
	_ = a.Close()
	if err := os.Remove(a.staging); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging file: %w", err)
	}
	a.staging = ""
	return nil
}

// typeOf maps abstract column kinds onto SQLite storage classes.
// Dates are ISO text and bools 0/1 integers; SQLite has no native
// type for either.
func typeOf(k adapter.ColumnKind) string {
	switch k {
	case adapter.KindInteger, adapter.KindBool:
		return "INTEGER"
	case adapter.KindDecimal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
