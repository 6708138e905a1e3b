package transform

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/gridetl/internal/schema"
)

//go:embed maps/*.yaml
var mapsFS embed.FS

// sourceMap declares how one source's raw columns feed canonical
// tables, with one revision per era of the source's own format.
type sourceMap struct {
	Source string               `yaml:"source"`
	Tables map[string]*tableMap `yaml:"tables"`
}

type tableMap struct {
	// Units rescales a decimal column once during normalization.
	Units map[string]unitSpec `yaml:"units"`
	// Categories maps source codes into a category column's value set.
	Categories map[string]map[string]string `yaml:"categories"`
	Revisions  []revision                   `yaml:"revisions"`
}

type unitSpec struct {
	Factor float64 `yaml:"factor"`
	From   string  `yaml:"from"`
}

// revision applies from its first report year until a later revision
// starts. Columns maps canonical name to raw column; Partition maps
// canonical name to a partition field (year, state).
type revision struct {
	From      int               `yaml:"from"`
	Columns   map[string]string `yaml:"columns"`
	Partition map[string]string `yaml:"partition"`
}

func (tm *tableMap) revisionFor(table string, year int) (*revision, error) {
	best := -1
	for i := range tm.Revisions {
		if year >= tm.Revisions[i].From {
			best = i
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("no %s column map revision covers year %d", table, year)
	}
	return &tm.Revisions[best], nil
}

// loadMaps parses every embedded column map and checks it against the
// catalog: names resolve, required columns stay covered, category
// codes land inside their enum, and every source table has a map.
func loadMaps(catalog *schema.Catalog) (map[string]*sourceMap, error) {
	entries, err := mapsFS.ReadDir("maps")
	if err != nil {
		return nil, fmt.Errorf("reading column maps: %w", err)
	}
	out := make(map[string]*sourceMap, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		raw, err := mapsFS.ReadFile("maps/" + name)
		if err != nil {
			return nil, fmt.Errorf("reading column map %s: %w", name, err)
		}
		var sm sourceMap
		if err := yaml.Unmarshal(raw, &sm); err != nil {
			return nil, fmt.Errorf("parsing column map %s: %w", name, err)
		}
		if sm.Source == "" {
			return nil, fmt.Errorf("column map %s names no source", name)
		}
		if _, ok := out[sm.Source]; ok {
			return nil, fmt.Errorf("source %s has two column maps", sm.Source)
		}
		if err := validateSourceMap(catalog, &sm); err != nil {
			return nil, fmt.Errorf("column map %s: %w", name, err)
		}
		out[sm.Source] = &sm
	}
	for _, t := range catalog.Tables() {
		if t.Source == "" {
			continue
		}
		sm, ok := out[t.Source]
		if !ok {
			return nil, fmt.Errorf("source %s has no column map", t.Source)
		}
		if _, ok := sm.Tables[t.Name]; !ok {
			return nil, fmt.Errorf("table %s missing from the %s column map", t.Name, t.Source)
		}
	}
	return out, nil
}

func validateSourceMap(catalog *schema.Catalog, sm *sourceMap) error {
	for name, tm := range sm.Tables {
		tbl, err := catalog.Table(name)
		if err != nil {
			return err
		}
		if tbl.Source != sm.Source {
			return fmt.Errorf("table %s belongs to source %s", name, tbl.Source)
		}
		if err := validateTableMap(tbl, tm); err != nil {
			return fmt.Errorf("table %s: %w", name, err)
		}
	}
	return nil
}

func validateTableMap(tbl *schema.Table, tm *tableMap) error {
	for name, u := range tm.Units {
		col, ok := tbl.Column(name)
		if !ok {
			return fmt.Errorf("unit conversion for unknown column %s", name)
		}
		if col.Kind != schema.KindDecimal {
			return fmt.Errorf("unit conversion on non-decimal column %s", name)
		}
		if u.Factor == 0 {
			return fmt.Errorf("unit conversion for %s has zero factor", name)
		}
	}
	for name, codes := range tm.Categories {
		col, ok := tbl.Column(name)
		if !ok {
			return fmt.Errorf("category codes for unknown column %s", name)
		}
		if col.Kind != schema.KindCategory {
			return fmt.Errorf("category codes on non-category column %s", name)
		}
		for code, v := range codes {
			if !col.InEnum(v) {
				return fmt.Errorf("category code %s maps outside the %s enum: %s", code, name, v)
			}
		}
	}
	if len(tm.Revisions) == 0 {
		return fmt.Errorf("no revisions")
	}
	last := -1
	for _, rev := range tm.Revisions {
		if rev.From <= last {
			return fmt.Errorf("revisions must be in ascending year order")
		}
		last = rev.From
		if err := validateRevision(tbl, &rev); err != nil {
			return fmt.Errorf("revision from %d: %w", rev.From, err)
		}
	}
	return nil
}

func validateRevision(tbl *schema.Table, rev *revision) error {
	for name := range rev.Columns {
		if !tbl.HasColumn(name) {
			return fmt.Errorf("maps unknown column %s", name)
		}
		if _, ok := rev.Partition[name]; ok {
			return fmt.Errorf("column %s mapped from both a raw column and a partition field", name)
		}
	}
	for name, field := range rev.Partition {
		col, ok := tbl.Column(name)
		if !ok {
			return fmt.Errorf("stamps unknown column %s", name)
		}
		switch field {
		case "year":
			if col.Kind != schema.KindInteger {
				return fmt.Errorf("partition year stamp on non-integer column %s", name)
			}
		case "state":
			if col.Kind != schema.KindText {
				return fmt.Errorf("partition state stamp on non-text column %s", name)
			}
		default:
			return fmt.Errorf("unknown partition field %q", field)
		}
	}
	for _, col := range tbl.Columns {
		if !col.Required {
			continue
		}
		if _, ok := rev.Columns[col.Name]; ok {
			continue
		}
		if _, ok := rev.Partition[col.Name]; ok {
			continue
		}
		return fmt.Errorf("required column %s has no mapping", col.Name)
	}
	return nil
}
