// Package postgres provides the PostgreSQL destination adapter.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

// DefaultSchema is where tables are published when the config names
// no schema.
const DefaultSchema = "gridetl"

// Adapter implements the adapter.Adapter interface for PostgreSQL.
// Writes land in a staging schema; Promote drops the published schema
// and renames staging over it in one transaction, so readers see the
// old snapshot or the new one, never a mix.
type Adapter struct {
	adapter.BaseSQLAdapter
	schema  string
	staging string
}

// New creates a PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Connect establishes the connection and recreates the staging schema.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	if cfg.DSN == "" {
		return fmt.Errorf("postgres destination requires a dsn")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	a.schema = cfg.Schema
	if a.schema == "" {
		a.schema = DefaultSchema
	}
	a.staging = a.schema + "_staging"

	if err := a.Exec(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", a.staging)); err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to clear staging schema: %w", err)
	}
	if err := a.Exec(ctx, fmt.Sprintf("CREATE SCHEMA %s", a.staging)); err != nil {
		_ = a.Close()
		return fmt.Errorf("failed to create staging schema: %w", err)
	}
	a.Logger.Debug("prepared postgres staging schema", slog.String("schema", a.staging))
	return nil
}

// CreateTable creates a table in the staging schema. Foreign keys are
// rewritten to reference staged tables; constraints follow the schema
// through the rename at promote time.
func (a *Adapter) CreateTable(ctx context.Context, tbl adapter.Table) error {
	staged := tbl
	staged.Name = a.staging + "." + tbl.Name
	staged.ForeignKeys = make([]adapter.ForeignKey, len(tbl.ForeignKeys))
	for i, fk := range tbl.ForeignKeys {
		fk.RefTable = a.staging + "." + fk.RefTable
		staged.ForeignKeys[i] = fk
	}
	if err := a.Exec(ctx, adapter.CreateTableSQL(staged, typeOf)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", tbl.Name, err)
	}
	return nil
}

// InsertRows appends rows to a staged table using COPY FROM STDIN via
// the raw pgx connection.
func (a *Adapter) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error {
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	if len(rows) == 0 {
		return nil
	}

	conn, err := a.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	return conn.Raw(func(driverConn any) error {
		pgxConn := driverConn.(*stdlib.Conn).Conn()
		n, err := pgxConn.CopyFrom(ctx, pgx.Identifier{a.staging, table}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy into %s: %w", table, err)
		}
		if n != int64(len(rows)) {
			return fmt.Errorf("copy into %s wrote %d of %d rows", table, n, len(rows))
		}
		return nil
	})
}

// Promote swaps the staging schema over the published one.
func (a *Adapter) Promote(ctx context.Context) error {
	if a.staging == "" {
		return fmt.Errorf("nothing staged")
	}
	if a.DB == nil {
		return fmt.Errorf("database connection not established")
	}

	tx, err := a.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin promote transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", a.schema)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to drop published schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER SCHEMA %s RENAME TO %s", a.staging, a.schema)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to rename staging schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit promote: %w", err)
	}
	a.Logger.Info("published postgres schema", slog.String("schema", a.schema))
	a.staging = ""
	return nil
}

// Discard drops the staging schema. After a Promote it is a no-op.
func (a *Adapter) Discard() error {
	if a.staging == "" || a.DB == nil {
		return nil
	}
	if err := a.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", a.staging)); err != nil {
		return fmt.Errorf("failed to drop staging schema: %w", err)
	}
	a.staging = ""
	return nil
}

// typeOf maps abstract column kinds onto PostgreSQL types.
func typeOf(k adapter.ColumnKind) string {
	switch k {
	case adapter.KindInteger:
		return "BIGINT"
	case adapter.KindDecimal:
		return "DOUBLE PRECISION"
	case adapter.KindDate:
		return "DATE"
	case adapter.KindBool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
