// Package pipeline drives a full run: resolve the requested
// partitions, ensure each archive is cached, extract and normalize in
// a bounded worker pool, then merge, resolve entities, and publish.
// Partitions are independent until the merge barrier, so everything
// before it runs concurrently and everything after it runs once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/gridetl/internal/datastore"
	"github.com/leapstack-labs/gridetl/internal/extract"
	"github.com/leapstack-labs/gridetl/internal/glue"
	"github.com/leapstack-labs/gridetl/internal/load"
	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/state"
	"github.com/leapstack-labs/gridetl/internal/transform"
	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

// DefaultWorkers bounds partition concurrency when Options leaves it unset.
const DefaultWorkers = 4

// Options configure a Pipeline.
type Options struct {
	Catalog *schema.Catalog
	Store   *datastore.Store
	// State records run bookkeeping. Nil disables it; a run never
	// fails because its bookkeeping did.
	State  state.Store
	Logger *slog.Logger
	// Workers bounds concurrent partition processing.
	Workers int
	// Strictness is the normalizer's coercion policy.
	Strictness string
	// Precedence orders sources for entity attribute conflicts.
	Precedence []string
	// Policy overrides each extractor's default bad-row handling.
	Policy extract.RowPolicy
	// OptionalSources fail soft: their failed partitions are skipped
	// and reported instead of failing the run.
	OptionalSources []string
}

// Selection names what a run should process. Zero values select
// everything: all known sources, every table they feed, all published
// periods.
type Selection struct {
	Sources []string
	Tables  []string
	Years   []int
}

// Destination says where the snapshot goes. Both nil means build and
// validate without publishing.
type Destination struct {
	Relational *adapter.Config
	Parquet    *load.ParquetOptions
}

// PartitionStatus attributes one failure to its partition.
type PartitionStatus struct {
	Partition extract.Partition
	Err       error
}

// Result summarizes one run.
type Result struct {
	RunID      string
	Duration   time.Duration
	Partitions int
	// Skipped lists failed partitions of optional sources.
	Skipped []PartitionStatus
	// Tables is rows per canonical table in the final snapshot.
	Tables map[string]int
	// Stats aggregates normalization counts per table.
	Stats map[string]transform.Stats
	Glue  *glue.Report
	Loads []load.TableResult
}

// Pipeline wires the stages together over one catalog and datastore.
type Pipeline struct {
	catalog    *schema.Catalog
	store      *datastore.Store
	state      state.Store
	logger     *slog.Logger
	workers    int
	normalizer *transform.Normalizer
	resolver   *glue.Resolver
	policy     extract.RowPolicy
	optional   map[string]bool
}

// New builds a Pipeline, loading the column maps and crosswalk.
func New(opts Options) (*Pipeline, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("pipeline needs a catalog")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline needs a datastore")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	normalizer, err := transform.New(opts.Catalog, transform.Options{
		Strictness: opts.Strictness,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := glue.New(opts.Catalog, glue.Options{
		Precedence: opts.Precedence,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	optional := make(map[string]bool, len(opts.OptionalSources))
	for _, s := range opts.OptionalSources {
		optional[s] = true
	}
	return &Pipeline{
		catalog:    opts.Catalog,
		store:      opts.Store,
		state:      opts.State,
		logger:     logger,
		workers:    workers,
		normalizer: normalizer,
		resolver:   resolver,
		policy:     opts.Policy,
		optional:   optional,
	}, nil
}

// partResult is one partition's output, or the error attributed to it.
type partResult struct {
	table *transform.CanonicalTable
	stats transform.Stats
	err   error
}

// Run executes the pipeline over the selected partitions and publishes
// the snapshot to the destination. Failures in required partitions and
// any failure at the merge, glue, or load barrier fail the run; failed
// partitions of optional sources are reported in Result.Skipped.
func (p *Pipeline) Run(ctx context.Context, sel Selection, dest Destination) (*Result, error) {
	start := time.Now()

	plan, err := p.plan(ctx, sel)
	if err != nil {
		return nil, err
	}

	runID := p.createRun()
	res := &Result{RunID: runID, Partitions: len(plan)}
	p.logger.Info("starting run", "run", runID, "partitions", len(plan), "workers", p.workers)

	// Phase 1: fetch, extract, and normalize each partition. Workers
	// record their outcome by plan index and only propagate the group
	// context's own error, so one bad partition never cancels its
	// siblings.
	outputs := make([]partResult, len(plan))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for i, w := range plan {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outputs[i] = p.processPartition(gctx, runID, w)
			return gctx.Err()
		})
	}
	if err := eg.Wait(); err != nil {
		p.completeRun(runID, state.RunStatusCancelled, err.Error())
		p.logger.Info("run cancelled", "run", runID)
		return res, err
	}

	// Barrier: attribute failures before anything merges.
	byTable := make(map[string][]*transform.CanonicalTable)
	res.Stats = make(map[string]transform.Stats)
	var failures []error
	for i, out := range outputs {
		w := plan[i]
		if out.err != nil {
			if p.optional[w.part.Source] {
				p.recordEvent(runID, w.part, state.EventSkipped, out.err.Error())
				res.Skipped = append(res.Skipped, PartitionStatus{Partition: w.part, Err: out.err})
				p.logger.Warn("optional partition skipped", "partition", w.part.String(), "error", out.err)
				continue
			}
			p.recordEvent(runID, w.part, state.EventFailed, out.err.Error())
			failures = append(failures, out.err)
			continue
		}
		byTable[w.part.Table] = append(byTable[w.part.Table], out.table)
		res.Stats[w.part.Table] = addStats(res.Stats[w.part.Table], out.stats)
	}
	if len(failures) > 0 {
		errMsg := fmt.Sprintf("%d partition(s) failed", len(failures))
		p.completeRun(runID, state.RunStatusFailed, errMsg)
		p.logger.Error("run failed", "run", runID, "failed_partitions", len(failures))
		return res, errors.Join(failures...)
	}

	// Phase 2: merge partitions, resolve entities, publish.
	snapshot, err := p.assemble(res, byTable)
	if err != nil {
		p.completeRun(runID, state.RunStatusFailed, err.Error())
		p.logger.Error("run failed", "run", runID, "error", err)
		return res, err
	}

	if err := p.publish(ctx, runID, res, snapshot, dest); err != nil {
		p.completeRun(runID, state.RunStatusFailed, err.Error())
		p.logger.Error("run failed", "run", runID, "error", err)
		return res, err
	}

	p.completeRun(runID, state.RunStatusCompleted, "")
	res.Duration = time.Since(start)
	p.logger.Info("run completed", "run", runID,
		"partitions", res.Partitions, "tables", len(res.Tables),
		"skipped", len(res.Skipped), "duration", res.Duration)
	return res, nil
}

// processPartition takes one partition from archive to canonical rows.
func (p *Pipeline) processPartition(ctx context.Context, runID string, w work) partResult {
	path, err := p.store.Ensure(ctx, w.key)
	if err != nil {
		return partResult{err: err}
	}
	p.recordEvent(runID, w.part, state.EventFetched, "")

	x, err := extract.For(w.part.Source)
	if err != nil {
		return partResult{err: err}
	}
	raw, xstats, err := x.Extract(ctx, path, w.part, extract.Options{Policy: p.policy, Logger: p.logger})
	if err != nil {
		return partResult{err: err}
	}
	if xstats.Skipped > 0 {
		p.logger.Warn("malformed rows skipped", "partition", w.part.String(), "skipped", xstats.Skipped)
	}

	tbl, stats, err := p.normalizer.Normalize(w.part, raw)
	if err != nil {
		return partResult{err: err}
	}
	p.recordEvent(runID, w.part, state.EventExtracted, fmt.Sprintf("%d rows", stats.Rows))
	p.logger.Debug("partition processed", "partition", w.part.String(), "rows", stats.Rows)
	return partResult{table: tbl, stats: stats}
}

// assemble merges per-partition outputs and resolves entities,
// returning the snapshot keyed by table name. The annotated tables get
// their entity id columns filled; the entity tables join the snapshot.
func (p *Pipeline) assemble(res *Result, byTable map[string][]*transform.CanonicalTable) (map[string]*transform.CanonicalTable, error) {
	names := make([]string, 0, len(byTable))
	for name := range byTable {
		names = append(names, name)
	}
	sort.Strings(names)

	snapshot := make(map[string]*transform.CanonicalTable, len(byTable))
	for _, name := range names {
		tbl, err := p.catalog.Table(name)
		if err != nil {
			return nil, err
		}
		merged, err := transform.Merge(tbl, byTable[name])
		if err != nil {
			return nil, err
		}
		snapshot[name] = merged
	}

	entities, report, err := p.resolver.Resolve(snapshot)
	if err != nil {
		return nil, err
	}
	for _, t := range entities {
		snapshot[t.Name] = t
	}
	res.Glue = report

	res.Tables = make(map[string]int, len(snapshot))
	for name, t := range snapshot {
		res.Tables[name] = len(t.Rows)
	}
	return snapshot, nil
}

// publish loads the snapshot into each configured destination.
func (p *Pipeline) publish(ctx context.Context, runID string, res *Result, snapshot map[string]*transform.CanonicalTable, dest Destination) error {
	if dest.Relational != nil {
		lr, err := load.NewRelational(p.catalog, p.logger).Load(ctx, snapshot, *dest.Relational)
		if err != nil {
			return err
		}
		p.recordLoads(runID, lr.Tables, dest.Relational.Type)
		res.Loads = append(res.Loads, lr.Tables...)
	}
	if dest.Parquet != nil {
		pr, err := load.NewParquet(p.catalog, p.logger).Write(ctx, snapshot, *dest.Parquet)
		if err != nil {
			return err
		}
		p.recordLoads(runID, pr.Tables, "parquet")
		res.Loads = append(res.Loads, pr.Tables...)
	}
	return nil
}

func addStats(a, b transform.Stats) transform.Stats {
	a.Rows += b.Rows
	a.Nulled += b.Nulled
	a.Rejected += b.Rejected
	a.Dropped += b.Dropped
	a.Converted += b.Converted
	return a
}

func (p *Pipeline) createRun() string {
	if p.state == nil {
		return ""
	}
	run, err := p.state.CreateRun()
	if err != nil {
		p.logger.Warn("run bookkeeping unavailable", "error", err)
		return ""
	}
	return run.ID
}

func (p *Pipeline) completeRun(id string, status state.RunStatus, errMsg string) {
	if p.state == nil || id == "" {
		return
	}
	_ = p.state.CompleteRun(id, status, errMsg)
}

func (p *Pipeline) recordEvent(id string, part extract.Partition, event, detail string) {
	if p.state == nil || id == "" {
		return
	}
	_ = p.state.RecordPartitionEvent(state.PartitionEvent{
		RunID:  id,
		Source: part.Source,
		Table:  part.Table,
		Year:   part.Year,
		Event:  event,
		Detail: detail,
	})
}

func (p *Pipeline) recordLoads(id string, tables []load.TableResult, destination string) {
	if p.state == nil || id == "" {
		return
	}
	for _, t := range tables {
		_ = p.state.RecordTableLoad(state.TableLoad{
			RunID:       id,
			Table:       t.Name,
			Rows:        int64(t.Rows),
			Duration:    t.Duration,
			Destination: destination,
		})
	}
}
