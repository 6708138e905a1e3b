// Package census resolves state and county identifiers against the
// census DP1 geography table.
package census

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/leapstack-labs/gridetl/internal/datastore"
	"github.com/leapstack-labs/gridetl/internal/extract"
	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

const source = "censusdp1tract"

// Geography is one row of the census attribute table. LandAreaKm2 and
// Population are zero where the source left them blank.
type Geography struct {
	GEOID       string
	Name        string
	StateFIPS   string
	CountyFIPS  string
	LandAreaKm2 float64
	Population  int64
}

// Lookup answers state and county queries over loaded geographies.
type Lookup struct {
	rows    []Geography
	byState map[string][]int
}

// New indexes a canonical census_geographies table.
func New(tbl *transform.CanonicalTable) (*Lookup, error) {
	if tbl.Name != "census_geographies" {
		return nil, fmt.Errorf("cannot build a census lookup from table %s", tbl.Name)
	}
	idx := make(map[string]int, 6)
	for _, name := range []string{"geoid", "name", "state_fips", "county_fips", "area_land_sqkm", "population"} {
		i := tbl.ColumnIndex(name)
		if i < 0 {
			return nil, fmt.Errorf("table %s has no column %s", tbl.Name, name)
		}
		idx[name] = i
	}

	l := &Lookup{
		rows:    make([]Geography, 0, len(tbl.Rows)),
		byState: make(map[string][]int),
	}
	for _, row := range tbl.Rows {
		g := Geography{
			GEOID:     row[idx["geoid"]].(string),
			Name:      row[idx["name"]].(string),
			StateFIPS: row[idx["state_fips"]].(string),
		}
		if v, ok := row[idx["county_fips"]].(string); ok {
			g.CountyFIPS = v
		}
		if v, ok := row[idx["area_land_sqkm"]].(float64); ok {
			g.LandAreaKm2 = v
		}
		if v, ok := row[idx["population"]].(int64); ok {
			g.Population = v
		}
		l.byState[g.StateFIPS] = append(l.byState[g.StateFIPS], len(l.rows))
		l.rows = append(l.rows, g)
	}
	for _, ids := range l.byState {
		sort.Slice(ids, func(i, j int) bool { return l.rows[ids[i]].GEOID < l.rows[ids[j]].GEOID })
	}
	return l, nil
}

// Load ensures the census archive is cached, extracts and normalizes
// its attribute table, and builds the lookup.
func Load(ctx context.Context, store *datastore.Store, catalog *schema.Catalog, logger *slog.Logger) (*Lookup, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	res, err := store.UniqueResource(ctx, source, datastore.Filter{})
	if err != nil {
		return nil, err
	}
	key, err := store.Key(source, res.Name)
	if err != nil {
		return nil, err
	}
	path, err := store.Ensure(ctx, key)
	if err != nil {
		return nil, err
	}

	x, err := extract.For(source)
	if err != nil {
		return nil, err
	}
	part := extract.Partition{Source: source, Table: "census_geographies"}
	raw, _, err := x.Extract(ctx, path, part, extract.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	normalizer, err := transform.New(catalog, transform.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	tbl, stats, err := normalizer.Normalize(part, raw)
	if err != nil {
		return nil, err
	}
	logger.Debug("census geographies loaded", "rows", stats.Rows)
	return New(tbl)
}

// State returns a state's geographies sorted by GEOID.
func (l *Lookup) State(fips string) []Geography {
	ids := l.byState[fips]
	out := make([]Geography, len(ids))
	for i, id := range ids {
		out[i] = l.rows[id]
	}
	return out
}

// Find resolves a state, and optionally a county within it, to
// geography rows. The state is a postal abbreviation or FIPS code;
// the county matches its FIPS code or its name, case-insensitively.
func (l *Lookup) Find(state, county string) ([]Geography, error) {
	fips, err := StateCode(state)
	if err != nil {
		return nil, err
	}
	rows := l.State(fips)
	if len(rows) == 0 {
		return nil, fmt.Errorf("no census geographies for state %s", state)
	}
	if county == "" {
		return rows, nil
	}
	matched := make([]Geography, 0, 1)
	for _, g := range rows {
		if g.CountyFIPS == county || strings.EqualFold(g.Name, county) {
			matched = append(matched, g)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("no census geographies for county %s in state %s", county, state)
	}
	return matched, nil
}

// Len returns the number of loaded geographies.
func (l *Lookup) Len() int { return len(l.rows) }
