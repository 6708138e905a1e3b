package glue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

func newResolver(t *testing.T, opts Options) (*Resolver, *schema.Catalog) {
	t.Helper()
	cat, err := schema.Load()
	require.NoError(t, err)
	r, err := New(cat, opts)
	require.NoError(t, err)
	return r, cat
}

func ctable(t *testing.T, cat *schema.Catalog, name string, rows []transform.Row) *transform.CanonicalTable {
	t.Helper()
	tbl, err := cat.Table(name)
	require.NoError(t, err)
	return &transform.CanonicalTable{
		Name:          name,
		Columns:       tbl.ColumnNames(),
		Rows:          rows,
		SchemaVersion: cat.Version,
	}
}

// entityID scans a table for the row whose id column holds native and
// returns the value of the entity id column.
func entityID(t *testing.T, ct *transform.CanonicalTable, idCol string, native int64, entCol string) any {
	t.Helper()
	ii, ei := ct.ColumnIndex(idCol), ct.ColumnIndex(entCol)
	for _, row := range ct.Rows {
		if row[ii] == native {
			return row[ei]
		}
	}
	t.Fatalf("no row with %s=%d", idCol, native)
	return nil
}

func TestResolveKeyMatchUtilities(t *testing.T) {
	r, cat := newResolver(t, Options{})
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(145), int64(2020), "Idaho Power Co", "ID", nil},
	})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(14354), int64(2020), "IDAHO POWER COMPANY", "ID", nil},
	})

	ents, report, err := r.Resolve(map[string]*transform.CanonicalTable{
		"utilities_ferc1": ferc, "utilities_eia860": eia,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.KeyMatches)
	assert.Equal(t, 0, report.CrosswalkMatches, "crosswalk must not re-count an existing match")
	assert.Equal(t, 1, report.Entities["utility"])
	assert.Equal(t, 1, report.Conflicts, "name spelling differs between filings")
	assert.Empty(t, report.Unmatched)

	assert.Equal(t, int64(1), entityID(t, ferc, "utility_id_ferc1", 145, "utility_entity_id"))
	assert.Equal(t, int64(1), entityID(t, eia, "utility_id_eia", 14354, "utility_entity_id"))

	require.Len(t, ents, 1)
	require.Equal(t, "utilities", ents[0].Name)
	require.Len(t, ents[0].Rows, 1)
	assert.Equal(t, transform.Row{int64(1), int64(2020), "IDAHO POWER COMPANY", "ID"}, ents[0].Rows[0])
}

func TestResolveCrosswalkPlants(t *testing.T) {
	r, cat := newResolver(t, Options{})
	steam := ctable(t, cat, "plants_steam_ferc1", []transform.Row{
		{int64(145), int64(2020), "Boardman", 585.5, 3023.876, nil},
	})
	eia := ctable(t, cat, "plants_eia860", []transform.Row{
		{int64(286), int64(2020), "Boardman", int64(14354), "OR", "Morrow", 585.5, false, nil},
	})

	ents, report, err := r.Resolve(map[string]*transform.CanonicalTable{
		"plants_steam_ferc1": steam, "plants_eia860": eia,
	})
	require.NoError(t, err)

	// Steam records carry no jurisdiction, so only the crosswalk can
	// link them.
	assert.Equal(t, 0, report.KeyMatches)
	assert.Equal(t, 1, report.CrosswalkMatches)
	assert.Equal(t, 1, report.Entities["plant"])
	assert.Zero(t, report.Conflicts)

	assert.Equal(t, int64(1), steam.Rows[0][steam.ColumnIndex("plant_entity_id")])
	assert.Equal(t, int64(1), eia.Rows[0][eia.ColumnIndex("plant_entity_id")])

	require.Len(t, ents, 1)
	require.Equal(t, "plants", ents[0].Name)
	require.Len(t, ents[0].Rows, 1)
	assert.Equal(t, transform.Row{int64(1), int64(2020), "Boardman", "OR", 585.5}, ents[0].Rows[0])
}

func TestResolveUnmatchedSingleton(t *testing.T) {
	r, cat := newResolver(t, Options{})
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(999), int64(2019), "Lone Pine Light", "MT", nil},
		{int64(999), int64(2020), "Lone Pine Light", "MT", nil},
	})

	ents, report, err := r.Resolve(map[string]*transform.CanonicalTable{"utilities_ferc1": ferc})
	require.NoError(t, err)

	assert.Equal(t, 0, report.Entities["utility"])
	require.Len(t, report.Unmatched, 1)
	assert.Equal(t, Unmatched{
		Kind: "utility", Source: "ferc1", Table: "utilities_ferc1",
		NativeID: "999", Years: []int{2019, 2020},
	}, report.Unmatched[0])

	assert.Nil(t, ferc.Rows[0][ferc.ColumnIndex("utility_entity_id")])
	assert.Nil(t, ferc.Rows[1][ferc.ColumnIndex("utility_entity_id")])

	require.Len(t, ents, 1)
	assert.Empty(t, ents[0].Rows)
}

func TestResolveAnchorSingletonKeepsID(t *testing.T) {
	r, cat := newResolver(t, Options{})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(5555), int64(2020), "Solo Power Co", "NV", nil},
	})

	ents, report, err := r.Resolve(map[string]*transform.CanonicalTable{"utilities_eia860": eia})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Entities["utility"])
	assert.Empty(t, report.Unmatched)
	assert.Equal(t, int64(1), eia.Rows[0][eia.ColumnIndex("utility_entity_id")])
	require.Len(t, ents, 1)
	assert.Equal(t, transform.Row{int64(1), int64(2020), "Solo Power Co", "NV"}, ents[0].Rows[0])
}

func TestResolveEntityRowsSpanMemberYears(t *testing.T) {
	r, cat := newResolver(t, Options{})
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(145), int64(2019), "Idaho Power Co", "ID", nil},
		{int64(145), int64(2020), "Idaho Power Co", "ID", nil},
	})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(14354), int64(2020), "Idaho Power Co", "ID", nil},
		{int64(14354), int64(2021), "Idaho Power Co", "ID", nil},
	})

	ents, report, err := r.Resolve(map[string]*transform.CanonicalTable{
		"utilities_ferc1": ferc, "utilities_eia860": eia,
	})
	require.NoError(t, err)

	// Matched on 2020 evidence; the entity covers the union of years.
	assert.Equal(t, 1, report.Entities["utility"])
	require.Len(t, ents[0].Rows, 3)
	assert.Equal(t, transform.Row{int64(1), int64(2019), "Idaho Power Co", "ID"}, ents[0].Rows[0])
	assert.Equal(t, transform.Row{int64(1), int64(2020), "Idaho Power Co", "ID"}, ents[0].Rows[1])
	assert.Equal(t, transform.Row{int64(1), int64(2021), "Idaho Power Co", "ID"}, ents[0].Rows[2])
}

func TestResolvePrecedenceOverride(t *testing.T) {
	ferc := []transform.Row{{int64(145), int64(2020), "Idaho Power Co", "ID", nil}}
	eia := []transform.Row{{int64(14354), int64(2020), "IDAHO POWER COMPANY", "ID", nil}}

	r, cat := newResolver(t, Options{Precedence: []string{"ferc1", "eia860"}})
	tables := map[string]*transform.CanonicalTable{
		"utilities_ferc1":  ctable(t, cat, "utilities_ferc1", ferc),
		"utilities_eia860": ctable(t, cat, "utilities_eia860", eia),
	}
	ents, _, err := r.Resolve(tables)
	require.NoError(t, err)
	require.Len(t, ents[0].Rows, 1)
	assert.Equal(t, "Idaho Power Co", ents[0].Rows[0][2], "ferc1 ranked first wins the name")
}

func TestResolveSameSourceCollision(t *testing.T) {
	r, cat := newResolver(t, Options{})
	// Two FERC respondents share a name across years and both match the
	// same EIA utility. Nothing in the crosswalk blesses the merge.
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(7), int64(2020), "Twin Falls Power", "ID", nil},
		{int64(8), int64(2021), "Twin Falls Power", "ID", nil},
	})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(900), int64(2020), "Twin Falls Power Co", "ID", nil},
		{int64(900), int64(2021), "Twin Falls Power Co", "ID", nil},
	})

	_, _, err := r.Resolve(map[string]*transform.CanonicalTable{
		"utilities_ferc1": ferc, "utilities_eia860": eia,
	})
	var gerr *GlueError
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "utility", gerr.Kind)
	assert.Contains(t, gerr.Reason, "distinct ferc1 ids")
	assert.Contains(t, gerr.Members, "ferc1:7")
	assert.Contains(t, gerr.Members, "ferc1:8")
	assert.Contains(t, gerr.Members, "eia860:900")
}

func TestResolveAmbiguousKeySkipped(t *testing.T) {
	r, cat := newResolver(t, Options{})
	// Two EIA utilities share name, state, and year. The bucket proves
	// nothing and contributes no links, so the FERC respondent stays
	// unmatched rather than guessing between them.
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(55), int64(2020), "Riverside", "CA", nil},
	})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(901), int64(2020), "Riverside", "CA", nil},
		{int64(902), int64(2020), "Riverside Inc", "CA", nil},
	})

	_, report, err := r.Resolve(map[string]*transform.CanonicalTable{
		"utilities_ferc1": ferc, "utilities_eia860": eia,
	})
	require.NoError(t, err)

	assert.Equal(t, 0, report.KeyMatches)
	assert.Equal(t, 2, report.Entities["utility"], "anchor singletons still earn ids")
	require.Len(t, report.Unmatched, 1)
	assert.Equal(t, "ferc1", report.Unmatched[0].Source)
	assert.Nil(t, ferc.Rows[0][ferc.ColumnIndex("utility_entity_id")])
}

func TestResolveCrosswalkYieldsToKeyEvidence(t *testing.T) {
	r, cat := newResolver(t, Options{})
	// The crosswalk links ferc1:145 to eia860:14354, but key matching
	// has already placed each in its own two-member group. The stale
	// crosswalk row must not rewire them.
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(145), int64(2020), "Mountain Energy", "WY", nil},
		{int64(88), int64(2020), "Valley Energy", "WY", nil},
	})
	eia := ctable(t, cat, "utilities_eia860", []transform.Row{
		{int64(14354), int64(2020), "Valley Energy Co", "WY", nil},
		{int64(777), int64(2020), "Mountain Energy Inc", "WY", nil},
	})

	_, report, err := r.Resolve(map[string]*transform.CanonicalTable{
		"utilities_ferc1": ferc, "utilities_eia860": eia,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, report.KeyMatches)
	assert.Equal(t, 0, report.CrosswalkMatches)
	assert.Equal(t, 2, report.Entities["utility"])
	assert.Equal(t,
		entityID(t, ferc, "utility_id_ferc1", 145, "utility_entity_id"),
		entityID(t, eia, "utility_id_eia", 777, "utility_entity_id"))
	assert.Equal(t,
		entityID(t, ferc, "utility_id_ferc1", 88, "utility_entity_id"),
		entityID(t, eia, "utility_id_eia", 14354, "utility_entity_id"))
}

func TestResolveDuplicateYearRejected(t *testing.T) {
	r, cat := newResolver(t, Options{})
	ferc := ctable(t, cat, "utilities_ferc1", []transform.Row{
		{int64(145), int64(2020), "Idaho Power Co", "ID", nil},
		{int64(145), int64(2020), "Idaho Power Company", "ID", nil},
	})
	_, _, err := r.Resolve(map[string]*transform.CanonicalTable{"utilities_ferc1": ferc})
	require.ErrorContains(t, err, "two rows for ferc1:145 in 2020")
}

func TestResolveIsOrderIndependent(t *testing.T) {
	rows := map[string][]transform.Row{
		"utilities_ferc1": {
			{int64(145), int64(2020), "Idaho Power Co", "ID", nil},
			{int64(87), int64(2020), "Sierra Pacific Power", "NV", nil},
			{int64(999), int64(2020), "Lone Pine Light", "MT", nil},
		},
		"utilities_eia860": {
			{int64(14354), int64(2020), "Idaho Power Co", "ID", nil},
			{int64(5027), int64(2020), "Sierra Pacific Power Co", "NV", nil},
			{int64(5555), int64(2020), "Solo Power Co", "NV", nil},
		},
	}

	run := func(reverse bool) (map[string]any, []transform.Row, *Report) {
		r, cat := newResolver(t, Options{})
		tables := make(map[string]*transform.CanonicalTable)
		for name, rs := range rows {
			ordered := make([]transform.Row, len(rs))
			copy(ordered, rs)
			if reverse {
				for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
					ordered[i], ordered[j] = ordered[j], ordered[i]
				}
			}
			tables[name] = ctable(t, cat, name, ordered)
		}
		ents, report, err := r.Resolve(tables)
		require.NoError(t, err)
		require.Len(t, ents, 1)

		ids := make(map[string]any)
		ids["ferc1:145"] = entityID(t, tables["utilities_ferc1"], "utility_id_ferc1", 145, "utility_entity_id")
		ids["ferc1:87"] = entityID(t, tables["utilities_ferc1"], "utility_id_ferc1", 87, "utility_entity_id")
		ids["eia860:14354"] = entityID(t, tables["utilities_eia860"], "utility_id_eia", 14354, "utility_entity_id")
		ids["eia860:5555"] = entityID(t, tables["utilities_eia860"], "utility_id_eia", 5555, "utility_entity_id")
		return ids, ents[0].Rows, report
	}

	ids1, ents1, rep1 := run(false)
	ids2, ents2, rep2 := run(true)

	assert.Equal(t, ids1, ids2)
	assert.Equal(t, ents1, ents2)
	assert.Equal(t, rep1.Entities, rep2.Entities)
	assert.Equal(t, rep1.Unmatched, rep2.Unmatched)

	// Pairs resolve together, the stray FERC respondent does not.
	assert.Equal(t, ids1["ferc1:145"], ids1["eia860:14354"])
	assert.NotEqual(t, ids1["ferc1:145"], ids1["ferc1:87"])
	assert.Equal(t, 3, rep1.Entities["utility"])
	require.Len(t, rep1.Unmatched, 1)
	assert.Equal(t, "999", rep1.Unmatched[0].NativeID)
}

func TestNewRejectsBadPrecedence(t *testing.T) {
	cat, err := schema.Load()
	require.NoError(t, err)

	_, err = New(cat, Options{Precedence: []string{"eia860", "nope"}})
	require.ErrorContains(t, err, `unknown source "nope"`)

	_, err = New(cat, Options{Precedence: []string{"eia860", "eia860"}})
	require.ErrorContains(t, err, "twice")
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Idaho Power Co", "idaho power"},
		{"IDAHO POWER COMPANY", "idaho power"},
		{"Duke Energy Corp.", "duke energy"},
		{"PacifiCorp", "pacificorp"},
		{"  The  Dalles   Light & Power, LLC ", "the dalles light power"},
		{"Co", "co"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeName(tt.in), "input %q", tt.in)
	}
}
