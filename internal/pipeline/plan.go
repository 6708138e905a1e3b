package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/leapstack-labs/gridetl/internal/dag"
	"github.com/leapstack-labs/gridetl/internal/datastore"
	"github.com/leapstack-labs/gridetl/internal/extract"
)

// work pairs a partition with the archive resource feeding it.
type work struct {
	part extract.Partition
	key  datastore.ResourceKey
}

// plan expands a selection into the partition work list: each selected
// source's advertised resources crossed with the tables it feeds,
// filtered by the table closure and requested years. The list is
// sorted by partition, so a plan is a pure function of the selection
// and the descriptors.
func (p *Pipeline) plan(ctx context.Context, sel Selection) ([]work, error) {
	sources := sel.Sources
	if len(sources) == 0 {
		sources = extract.Sources()
	}
	xs := make(map[string]extract.Extractor, len(sources))
	for _, s := range sources {
		x, err := extract.For(s)
		if err != nil {
			return nil, err
		}
		xs[s] = x
	}

	wanted, err := p.wantedTables(sel.Tables, xs)
	if err != nil {
		return nil, err
	}

	ordered := make([]string, 0, len(xs))
	for s := range xs {
		ordered = append(ordered, s)
	}
	sort.Strings(ordered)

	var plan []work
	for _, source := range ordered {
		tables := feedTables(xs[source], wanted)
		if len(tables) == 0 {
			p.logger.Debug("source feeds no selected table", "source", source)
			continue
		}
		resources, err := p.store.ListAvailable(ctx, source, datastore.Filter{})
		if err != nil {
			return nil, err
		}
		yearly, matched := false, false
		for _, res := range resources {
			year, dated, err := resourceYear(res)
			if err != nil {
				return nil, fmt.Errorf("resource %s/%s: %w", source, res.Name, err)
			}
			if dated {
				yearly = true
				if len(sel.Years) > 0 && !slices.Contains(sel.Years, year) {
					continue
				}
				matched = true
			}
			key, err := p.store.Key(source, res.Name)
			if err != nil {
				return nil, err
			}
			for _, table := range tables {
				plan = append(plan, work{
					part: extract.Partition{Source: source, Table: table, Year: year, Parts: extraParts(res)},
					key:  key,
				})
			}
		}
		if yearly && !matched && len(sel.Years) > 0 {
			return nil, fmt.Errorf("source %s has no partitions for years %v", source, sel.Years)
		}
	}
	if len(plan) == 0 {
		return nil, fmt.Errorf("selection matches no partitions")
	}
	sort.Slice(plan, func(i, j int) bool {
		return plan[i].part.String() < plan[j].part.String()
	})
	return plan, nil
}

// wantedTables resolves the table filter to the closed set of tables
// the run must produce. Nil means no filter. Closing over foreign keys
// keeps referenced tables loadable; each closed table's source must be
// among the selected ones, except the entity tables, which the glue
// stage produces itself.
func (p *Pipeline) wantedTables(names []string, xs map[string]extract.Extractor) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	all := make([]string, 0)
	for _, t := range p.catalog.Tables() {
		all = append(all, t.Name)
	}
	g, err := dag.FromCatalog(p.catalog, all)
	if err != nil {
		return nil, err
	}
	closed, err := g.Closure(names)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(closed))
	for _, name := range closed {
		wanted[name] = true
	}
	for _, name := range closed {
		tbl, err := p.catalog.Table(name)
		if err != nil {
			return nil, err
		}
		if tbl.Source == "" {
			continue
		}
		if _, ok := xs[tbl.Source]; !ok {
			return nil, fmt.Errorf("table %s needs source %s, which is not selected", name, tbl.Source)
		}
	}
	return wanted, nil
}

// feedTables returns the extractor's tables narrowed to the wanted set.
func feedTables(x extract.Extractor, wanted map[string]bool) []string {
	tables := x.Tables()
	if wanted == nil {
		return tables
	}
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if wanted[t] {
			out = append(out, t)
		}
	}
	return out
}

// resourceYear reads the year part of a resource. Sources without
// yearly partitions, like the census geodatabase, carry none.
func resourceYear(res datastore.Resource) (int, bool, error) {
	v, ok := res.Parts["year"]
	if !ok {
		return 0, false, nil
	}
	year, err := strconv.Atoi(fmt.Sprint(v))
	if err != nil {
		return 0, false, fmt.Errorf("year part %v is not a year", v)
	}
	return year, true, nil
}

// extraParts carries the remaining resource parts into the partition,
// stringified the same way the descriptor filter renders them.
func extraParts(res datastore.Resource) map[string]string {
	var parts map[string]string
	for k, v := range res.Parts {
		if k == "year" {
			continue
		}
		if parts == nil {
			parts = make(map[string]string)
		}
		parts[k] = fmt.Sprint(v)
	}
	return parts
}
