// Package glue assigns cross-source entity ids to the normalized
// source tables. Matching is deterministic: exact key matching on
// normalized name, jurisdiction, and report year first, the embedded
// crosswalk for records that fall through. Nothing fuzzy; reruns over
// identical inputs produce identical ids.
package glue

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

// DefaultPrecedence orders sources for attribute conflicts. The EIA
// feeds rank first; their reporting is cleaner than the FERC filings.
var DefaultPrecedence = []string{"eia860", "eia923", "ferc1"}

// Options tune a Resolver.
type Options struct {
	// Precedence orders sources for attribute conflicts, strongest
	// first. Sources left out rank last, in name order.
	Precedence []string
	Logger     *slog.Logger
}

// Report summarizes one resolution pass.
type Report struct {
	// Entities counts assigned ids per kind.
	Entities         map[string]int
	KeyMatches       int
	CrosswalkMatches int
	Conflicts        int
	Unmatched        []Unmatched
}

// Unmatched is a record kept with a null entity id.
type Unmatched struct {
	Kind     string
	Source   string
	Table    string
	NativeID string
	Years    []int
}

// Resolver holds the catalog, crosswalk, and precedence ranking.
type Resolver struct {
	catalog *schema.Catalog
	xwalk   *crosswalk
	rank    map[string]int
	logger  *slog.Logger
}

// New builds a Resolver, loading and checking the embedded crosswalk.
func New(catalog *schema.Catalog, opts Options) (*Resolver, error) {
	xwalk, err := loadCrosswalk(catalog)
	if err != nil {
		return nil, err
	}
	prec := opts.Precedence
	if len(prec) == 0 {
		prec = DefaultPrecedence
	}
	known := make(map[string]bool)
	for _, s := range catalog.Sources() {
		known[s] = true
	}
	rank := make(map[string]int, len(prec))
	for i, s := range prec {
		if !known[s] {
			return nil, fmt.Errorf("precedence names unknown source %q", s)
		}
		if _, ok := rank[s]; ok {
			return nil, fmt.Errorf("precedence lists source %s twice", s)
		}
		rank[s] = i
	}
	for _, tbl := range catalog.Tables() {
		if tbl.IsEntity() && (len(tbl.NaturalKey) != 2 || tbl.NaturalKey[1] != "report_year") {
			return nil, fmt.Errorf("entity table %s must be keyed by (id, report_year)", tbl.Name)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{catalog: catalog, xwalk: xwalk, rank: rank, logger: logger}, nil
}

// rowRef points at one source row's entity id cell.
type rowRef struct {
	table *transform.CanonicalTable
	col   int
	idx   int
}

// occurrence is one member's row in one report year.
type occurrence struct {
	name  string
	jur   string
	jurOK bool
	attrs map[string]any
}

// member is one (source, native id) identity across years.
type member struct {
	source string
	table  string
	native string
	key    string
	occs   map[int64]*occurrence
	rows   []rowRef
}

func (m *member) display() string {
	return m.source + ":" + m.native
}

func (m *member) yearsSorted() []int64 {
	out := make([]int64, 0, len(m.occs))
	for y := range m.occs {
		out = append(out, y)
	}
	slices.Sort(out)
	return out
}

// Resolve assigns entity ids across the annotated tables present in
// tables, filling their entity id columns in place, and returns the
// entity tables in catalog order plus a report. Annotated tables the
// run did not produce are simply absent from the evidence.
func (r *Resolver) Resolve(tables map[string]*transform.CanonicalTable) ([]*transform.CanonicalTable, *Report, error) {
	report := &Report{Entities: make(map[string]int)}
	var out []*transform.CanonicalTable
	for _, tbl := range r.catalog.Tables() {
		if !tbl.IsEntity() {
			continue
		}
		ct, err := r.resolveKind(tbl.EntityKind, tables, report)
		if err != nil {
			return nil, nil, err
		}
		if ct != nil {
			out = append(out, ct)
		}
	}
	sort.Slice(report.Unmatched, func(i, j int) bool {
		a, b := report.Unmatched[i], report.Unmatched[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.NativeID < b.NativeID
	})
	return out, report, nil
}

func (r *Resolver) resolveKind(kind string, tables map[string]*transform.CanonicalTable, report *Report) (*transform.CanonicalTable, error) {
	entTbl, err := r.catalog.EntityTable(kind)
	if err != nil {
		return nil, err
	}
	members, err := r.collect(kind, tables)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(members))
	for k := range members {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := newDSU(keys)
	r.keyMatch(kind, members, keys, d, report)
	cwGroupOf := r.applyCrosswalk(kind, members, d, report)

	comps := d.components()
	if err := r.checkCollisions(kind, members, comps, cwGroupOf); err != nil {
		return nil, err
	}

	anchor := r.catalog.Anchor(kind)
	var nextID int64
	var entityRows []transform.Row
	for _, comp := range comps {
		hasAnchor := false
		for _, k := range comp {
			if members[k].source == anchor {
				hasAnchor = true
				break
			}
		}
		if len(comp) == 1 && !hasAnchor {
			m := members[comp[0]]
			years := m.yearsSorted()
			yi := make([]int, len(years))
			for i, y := range years {
				yi[i] = int(y)
			}
			report.Unmatched = append(report.Unmatched, Unmatched{
				Kind: kind, Source: m.source, Table: m.table, NativeID: m.native, Years: yi,
			})
			continue
		}
		nextID++
		group := make([]*member, len(comp))
		for i, k := range comp {
			group[i] = members[k]
		}
		for _, m := range group {
			for _, ref := range m.rows {
				ref.table.Rows[ref.idx][ref.col] = nextID
			}
		}
		entityRows = append(entityRows, r.entityRows(entTbl, nextID, group, report)...)
	}
	report.Entities[kind] = int(nextID)

	return transform.NewTable(entTbl, r.catalog.Version, entityRows)
}

func (r *Resolver) collect(kind string, tables map[string]*transform.CanonicalTable) (map[string]*member, error) {
	members := make(map[string]*member)
	for _, at := range r.catalog.Annotated() {
		if at.Entity.Kind != kind {
			continue
		}
		ct, ok := tables[at.Name]
		if !ok {
			continue
		}
		if !slices.Equal(ct.Columns, at.ColumnNames()) {
			return nil, fmt.Errorf("table %s rows do not match the catalog columns", at.Name)
		}
		ent := at.Entity
		idIdx := make([]int, len(ent.IDColumns))
		for i, name := range ent.IDColumns {
			idIdx[i] = ct.ColumnIndex(name)
		}
		entIdx := ct.ColumnIndex(ent.Column)
		nameIdx := ct.ColumnIndex(ent.NameColumn)
		yearIdx := ct.ColumnIndex("report_year")
		jurIdx := -1
		if ent.JurisdictionColumn != "" {
			jurIdx = ct.ColumnIndex(ent.JurisdictionColumn)
		}
		attrIdx := make(map[string]int, len(ent.Attributes))
		for entCol, srcCol := range ent.Attributes {
			attrIdx[entCol] = ct.ColumnIndex(srcCol)
		}

		for i, row := range ct.Rows {
			native := renderID(row, idIdx)
			key := at.Source + "\x1f" + native
			m := members[key]
			if m == nil {
				m = &member{source: at.Source, table: at.Name, native: native, key: key, occs: make(map[int64]*occurrence)}
				members[key] = m
			}
			year, ok := row[yearIdx].(int64)
			if !ok {
				return nil, fmt.Errorf("table %s row %d has no report year", at.Name, i+1)
			}
			if _, dup := m.occs[year]; dup {
				return nil, fmt.Errorf("table %s has two rows for %s in %d", at.Name, m.display(), year)
			}
			occ := &occurrence{attrs: make(map[string]any, len(attrIdx))}
			occ.name, _ = row[nameIdx].(string)
			if jurIdx >= 0 {
				if s, ok := row[jurIdx].(string); ok {
					occ.jur, occ.jurOK = s, true
				}
			}
			for entCol, idx := range attrIdx {
				occ.attrs[entCol] = row[idx]
			}
			m.occs[year] = occ
			m.rows = append(m.rows, rowRef{table: ct, col: entIdx, idx: i})
		}
	}
	return members, nil
}

// keyMatch unions members that report the same normalized name in the
// same jurisdiction for the same year. A year bucket holding two
// records of one source is ambiguous evidence and contributes nothing.
func (r *Resolver) keyMatch(kind string, members map[string]*member, keys []string, d *dsu, report *Report) {
	type bucketKey struct {
		name string
		jur  string
		year int64
	}
	buckets := make(map[bucketKey][]string)
	for _, k := range keys {
		m := members[k]
		for _, year := range m.yearsSorted() {
			occ := m.occs[year]
			if !occ.jurOK {
				continue
			}
			name := normalizeName(occ.name)
			if name == "" {
				continue
			}
			bk := bucketKey{name: name, jur: occ.jur, year: year}
			buckets[bk] = append(buckets[bk], k)
		}
	}
	bks := make([]bucketKey, 0, len(buckets))
	for bk := range buckets {
		bks = append(bks, bk)
	}
	sort.Slice(bks, func(i, j int) bool {
		if bks[i].name != bks[j].name {
			return bks[i].name < bks[j].name
		}
		if bks[i].jur != bks[j].jur {
			return bks[i].jur < bks[j].jur
		}
		return bks[i].year < bks[j].year
	})
	for _, bk := range bks {
		ks := buckets[bk]
		if len(ks) < 2 {
			continue
		}
		bySource := make(map[string]int)
		ambiguous := false
		for _, k := range ks {
			bySource[members[k].source]++
			if bySource[members[k].source] > 1 {
				ambiguous = true
			}
		}
		if ambiguous {
			r.logger.Warn("ambiguous match key shared within one source",
				"kind", kind, "name", bk.name, "jurisdiction", bk.jur, "year", bk.year)
			continue
		}
		for i := 1; i < len(ks); i++ {
			if d.find(ks[0]) != d.find(ks[i]) {
				d.union(ks[0], ks[i])
				report.KeyMatches++
			}
		}
	}
}

// applyCrosswalk joins still-unmatched members to their crosswalk
// group. Members already matched into two different groups are left
// alone; the crosswalk only catches what key matching missed.
func (r *Resolver) applyCrosswalk(kind string, members map[string]*member, d *dsu, report *Report) map[string]int {
	cwGroupOf := make(map[string]int)
	for gi, grp := range r.xwalk.groups(kind) {
		var present []string
		for _, gm := range grp.Members {
			key := gm.Source + "\x1f" + gm.ID
			if _, ok := members[key]; ok {
				cwGroupOf[key] = gi
				present = append(present, key)
			}
		}
		sort.Strings(present)
		for i := 1; i < len(present); i++ {
			a, b := present[0], present[i]
			if d.find(a) == d.find(b) {
				continue
			}
			if d.componentSize(a) > 1 && d.componentSize(b) > 1 {
				r.logger.Warn("crosswalk link spans two matched groups",
					"kind", kind, "a", members[a].display(), "b", members[b].display())
				continue
			}
			d.union(a, b)
			report.CrosswalkMatches++
		}
	}
	return cwGroupOf
}

func (r *Resolver) checkCollisions(kind string, members map[string]*member, comps [][]string, cwGroupOf map[string]int) error {
	for _, comp := range comps {
		display := make([]string, len(comp))
		for i, k := range comp {
			display[i] = members[k].display()
		}
		groups := make(map[int]bool)
		for _, k := range comp {
			if gi, ok := cwGroupOf[k]; ok {
				groups[gi] = true
			}
		}
		if len(groups) > 1 {
			return &GlueError{Kind: kind, Members: display, Reason: "members span distinct crosswalk entries"}
		}
		bySource := make(map[string][]string)
		for _, k := range comp {
			m := members[k]
			bySource[m.source] = append(bySource[m.source], k)
		}
		sources := make([]string, 0, len(bySource))
		for s := range bySource {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, src := range sources {
			ks := bySource[src]
			if len(ks) < 2 {
				continue
			}
			for _, k := range ks {
				if _, ok := cwGroupOf[k]; !ok {
					return &GlueError{Kind: kind, Members: display,
						Reason: fmt.Sprintf("distinct %s ids merged without a crosswalk entry", src)}
				}
			}
		}
	}
	return nil
}

// entityRows produces one row per report year for an entity, with
// attributes taken from the highest-precedence member reporting them.
func (r *Resolver) entityRows(entTbl *schema.Table, id int64, group []*member, report *Report) []transform.Row {
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i], group[j]
		ra, rb := r.sourceRank(a.source), r.sourceRank(b.source)
		if ra != rb {
			return ra < rb
		}
		if a.source != b.source {
			return a.source < b.source
		}
		return a.native < b.native
	})
	yearSet := make(map[int64]bool)
	for _, m := range group {
		for y := range m.occs {
			yearSet[y] = true
		}
	}
	years := make([]int64, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	slices.Sort(years)

	idName, yearName := entTbl.NaturalKey[0], entTbl.NaturalKey[1]
	rows := make([]transform.Row, 0, len(years))
	for _, y := range years {
		row := make(transform.Row, len(entTbl.Columns))
		for ci, col := range entTbl.Columns {
			switch col.Name {
			case idName:
				row[ci] = id
			case yearName:
				row[ci] = y
			default:
				var winner any
				for _, m := range group {
					occ := m.occs[y]
					if occ == nil {
						continue
					}
					v := occ.attrs[col.Name]
					if v == nil {
						continue
					}
					if winner == nil {
						winner = v
					} else if v != winner {
						report.Conflicts++
						r.logger.Debug("attribute conflict",
							"table", entTbl.Name, "column", col.Name, "year", y,
							"kept", winner, "dropped", v, "source", m.source)
					}
				}
				row[ci] = winner
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (r *Resolver) sourceRank(s string) int {
	if rk, ok := r.rank[s]; ok {
		return rk
	}
	return len(r.rank)
}

func renderID(row transform.Row, idIdx []int) string {
	parts := make([]string, len(idIdx))
	for i, idx := range idIdx {
		switch v := row[idx].(type) {
		case int64:
			parts[i] = fmt.Sprintf("%d", v)
		case string:
			parts[i] = v
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += "|" + p
	}
	return out
}
