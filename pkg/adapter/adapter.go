// Package adapter defines the destination contract the relational
// loader writes through.
//
// Concrete implementations live in pkg/adapters/ subdirectories and
// register themselves on import. Every adapter stages its writes:
// nothing is visible at the published location until Promote, and a
// failed run leaves the previously published artifact untouched.
package adapter

import "context"

// Config selects and configures a destination.
type Config struct {
	// Type names a registered adapter: sqlite, duckdb, postgres.
	Type string

	// Path is the database file for file-backed engines.
	Path string

	// DSN is the connection string for server engines.
	DSN string

	// Schema is the namespace tables land in, for engines that have
	// schemas. Empty means the adapter default.
	Schema string
}

// ColumnKind abstracts the column types the canonical schema needs.
// Adapters map kinds onto engine types.
type ColumnKind string

const (
	KindInteger ColumnKind = "integer"
	KindDecimal ColumnKind = "decimal"
	KindText    ColumnKind = "text"
	KindDate    ColumnKind = "date"
	KindBool    ColumnKind = "bool"
)

// Column declares one destination column.
type Column struct {
	Name     string
	Kind     ColumnKind
	Nullable bool
}

// ForeignKey declares a compound reference between destination tables.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}

// Table declares a destination table with its keys.
type Table struct {
	Name        string
	Columns     []Column
	PrimaryKey  []string
	ForeignKeys []ForeignKey
}

// Adapter is the interface all destination adapters implement.
// CreateTable and InsertRows act on the staging area. Discard after a
// successful Promote is a no-op, so callers can defer it.
type Adapter interface {
	// Connect opens the destination and prepares its staging area.
	Connect(ctx context.Context, cfg Config) error

	// CreateTable creates a staged table.
	CreateTable(ctx context.Context, tbl Table) error

	// InsertRows appends rows to a staged table. Values follow the
	// given column order; nil means NULL.
	InsertRows(ctx context.Context, table string, columns []string, rows [][]any) error

	// Promote atomically publishes the staged snapshot.
	Promote(ctx context.Context) error

	// Discard abandons the staged snapshot.
	Discard() error

	// Close releases the connection without publishing.
	Close() error
}
