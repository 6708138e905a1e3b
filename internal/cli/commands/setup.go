// Package commands implements the gridetl subcommands.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridetl/internal/config"
	"github.com/leapstack-labs/gridetl/internal/datastore"
	"github.com/leapstack-labs/gridetl/internal/load"
	"github.com/leapstack-labs/gridetl/internal/pipeline"
	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/state"
	"github.com/leapstack-labs/gridetl/pkg/adapter"

	_ "github.com/leapstack-labs/gridetl/pkg/adapters/duckdb"   // register duckdb destination
	_ "github.com/leapstack-labs/gridetl/pkg/adapters/postgres" // register postgres destination
	_ "github.com/leapstack-labs/gridetl/pkg/adapters/sqlite"   // register sqlite destination
)

// UsageError marks command-line mistakes: bad flags, bad selectors,
// invalid configuration. The process maps it to its own exit code.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }

func (e *UsageError) Unwrap() error { return e.Err }

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) *config.Config {
	return config.FromContext(cmd.Context())
}

// getLogger returns the process logger built by the root command.
func getLogger(cmd *cobra.Command) *slog.Logger {
	return config.GetLogger(cmd.Context())
}

// newDatastore builds the archive store from the configuration,
// attaching the shared remote cache layer when one is configured.
func newDatastore(cfg *config.Config, logger *slog.Logger) (*datastore.Store, error) {
	opts := datastore.Options{
		CacheRoot:  cfg.CacheRoot,
		Sandbox:    cfg.Sandbox,
		CachedOnly: cfg.CachedOnly,
		Token:      cfg.Fetch.Token,
		Timeout:    cfg.Fetch.Timeout,
		Retries:    cfg.Fetch.Retries,
		Backoff:    cfg.Fetch.Backoff,
		Logger:     logger,
	}
	if cfg.RemoteCache.Enabled {
		layer, err := datastore.NewS3Cache(datastore.S3Options{
			Bucket:   cfg.RemoteCache.Bucket,
			Prefix:   cfg.RemoteCache.Prefix,
			Region:   cfg.RemoteCache.Region,
			Endpoint: cfg.RemoteCache.Endpoint,
			ReadOnly: cfg.RemoteCache.ReadOnly,
		})
		if err != nil {
			return nil, err
		}
		opts.Remote = append(opts.Remote, layer)
	}
	return datastore.New(opts)
}

// openState opens the run-tracking store, creating and migrating the
// database as needed. The caller closes it.
func openState(cfg *config.Config, logger *slog.Logger) (*state.SQLiteStore, error) {
	dir := filepath.Dir(cfg.StatePath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, err
		}
	}
	st := state.NewSQLiteStore(logger)
	if err := st.Open(cfg.StatePath); err != nil {
		return nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// newPipeline assembles the orchestrator over the shared catalog, the
// archive store and the run-tracking store.
func newPipeline(cfg *config.Config, logger *slog.Logger, st state.Store, optional []string) (*pipeline.Pipeline, error) {
	cat, err := schema.Load()
	if err != nil {
		return nil, err
	}
	store, err := newDatastore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Catalog:         cat,
		Store:           store,
		State:           st,
		Logger:          logger,
		Workers:         cfg.Workers,
		Strictness:      cfg.Strictness,
		Precedence:      cfg.Glue.Precedence,
		OptionalSources: optional,
	})
}

// relationalDestination translates the destination section into an
// adapter config.
func relationalDestination(cfg *config.Config) *adapter.Config {
	return &adapter.Config{
		Type:   cfg.Destination.Type,
		Path:   cfg.Destination.Path,
		DSN:    cfg.Destination.DSN,
		Schema: cfg.Destination.Schema,
	}
}

// parquetDestination translates the parquet section into writer options.
func parquetDestination(cfg *config.Config) *load.ParquetOptions {
	return &load.ParquetOptions{
		Dir:         cfg.Parquet.Dir,
		Compression: cfg.Parquet.Compression,
	}
}

// newTable returns a writer in the house table style.
func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// printRunResult renders the run summary: loaded tables, the link
// report, normalization counts and skipped partitions.
func printRunResult(w io.Writer, res *pipeline.Result) {
	_, _ = fmt.Fprintf(w, "Run %s: %d partition(s) in %s\n",
		res.RunID, res.Partitions, res.Duration.Round(time.Millisecond))

	if len(res.Loads) > 0 {
		t := newTable(w)
		t.AppendHeader(table.Row{"TABLE", "ROWS", "DURATION"})
		for _, l := range res.Loads {
			t.AppendRow(table.Row{l.Name, l.Rows, l.Duration.Round(time.Millisecond)})
		}
		t.Render()
	} else if len(res.Tables) > 0 {
		names := make([]string, 0, len(res.Tables))
		for name := range res.Tables {
			names = append(names, name)
		}
		sort.Strings(names)
		t := newTable(w)
		t.AppendHeader(table.Row{"TABLE", "ROWS"})
		for _, name := range names {
			t.AppendRow(table.Row{name, res.Tables[name]})
		}
		t.Render()
	}

	if res.Glue != nil {
		_, _ = fmt.Fprintf(w, "Linked %d utilities and %d plants (%d key matches, %d crosswalk matches, %d conflicts, %d unmatched)\n",
			res.Glue.Entities["utility"], res.Glue.Entities["plant"],
			res.Glue.KeyMatches, res.Glue.CrosswalkMatches,
			res.Glue.Conflicts, len(res.Glue.Unmatched))
	}

	var nulled, rejected, dropped int
	for _, s := range res.Stats {
		nulled += s.Nulled
		rejected += s.Rejected
		dropped += s.Dropped
	}
	if nulled > 0 || rejected > 0 || dropped > 0 {
		_, _ = fmt.Fprintf(w, "Normalization: %d cell(s) nulled, %d row(s) rejected, %d duplicate(s) dropped\n",
			nulled, rejected, dropped)
	}

	if len(res.Skipped) > 0 {
		_, _ = fmt.Fprintf(w, "Skipped %d optional partition(s):\n", len(res.Skipped))
		for _, s := range res.Skipped {
			_, _ = fmt.Fprintf(w, "  %s: %v\n", s.Partition, s.Err)
		}
	}
}

// formatBytes renders a byte count in the nearest binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatParts renders partition parts as a stable k=v list.
func formatParts(parts map[string]any) string {
	if len(parts) == 0 {
		return "-"
	}
	kvs := make([]string, 0, len(parts))
	for k, v := range parts {
		kvs = append(kvs, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(kvs)
	return strings.Join(kvs, ",")
}
