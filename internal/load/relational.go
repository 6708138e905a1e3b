package load

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/gridetl/internal/dag"
	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

// Relational loads snapshots through a registered destination adapter.
type Relational struct {
	catalog *schema.Catalog
	logger  *slog.Logger
}

// NewRelational returns a loader over the catalog. A nil logger
// discards.
func NewRelational(cat *schema.Catalog, logger *slog.Logger) *Relational {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relational{catalog: cat, logger: logger}
}

// Load verifies integrity, stages every table in foreign key order,
// and promotes the snapshot. On failure the staged work is discarded.
func (l *Relational) Load(ctx context.Context, tables map[string]*transform.CanonicalTable, cfg adapter.Config) (*Result, error) {
	if err := CheckIntegrity(l.catalog, tables); err != nil {
		return nil, err
	}
	graph, err := dag.FromCatalog(l.catalog, sortedNames(tables))
	if err != nil {
		return nil, err
	}
	order, err := graph.Sort()
	if err != nil {
		return nil, err
	}

	adp, err := adapter.NewAdapter(cfg, l.logger)
	if err != nil {
		return nil, err
	}
	if err := adp.Connect(ctx, cfg); err != nil {
		return nil, &LoadError{Op: "connect", Err: err}
	}
	defer adp.Close()
	defer adp.Discard()

	res := &Result{}
	for _, name := range order {
		ct := tables[name]
		def, err := l.catalog.Table(name)
		if err != nil {
			return nil, err
		}
		start := time.Now()
		if err := adp.CreateTable(ctx, tableDef(def, tables)); err != nil {
			return nil, &LoadError{Table: name, Op: "create table", Err: err}
		}
		if err := insertAll(ctx, adp, ct); err != nil {
			return nil, &LoadError{Table: name, Op: "insert", Err: err}
		}
		res.Tables = append(res.Tables, TableResult{
			Name:     name,
			Rows:     len(ct.Rows),
			Duration: time.Since(start),
		})
		l.logger.Debug("table staged", "table", name, "rows", len(ct.Rows))
	}

	if err := adp.Promote(ctx); err != nil {
		return nil, &LoadError{Op: "promote", Err: err}
	}
	l.logger.Info("snapshot published",
		"destination", cfg.Type,
		"tables", len(res.Tables),
		"rows", res.Rows())
	return res, nil
}

func insertAll(ctx context.Context, adp adapter.Adapter, ct *transform.CanonicalTable) error {
	if len(ct.Rows) == 0 {
		return nil
	}
	rows := make([][]any, len(ct.Rows))
	for i, r := range ct.Rows {
		rows[i] = r
	}
	return adp.InsertRows(ctx, ct.Name, ct.Columns, rows)
}
