package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridetl/internal/extract"
	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/testutil"
)

func newNormalizer(t *testing.T, strictness string) (*Normalizer, *schema.Catalog) {
	t.Helper()
	catalog, err := schema.Load()
	require.NoError(t, err)
	n, err := New(catalog, Options{Strictness: strictness, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	return n, catalog
}

func ferc1SteamPart(year int) extract.Partition {
	return extract.Partition{Source: "ferc1", Table: "plants_steam_ferc1", Year: year}
}

func TestNormalizeFerc1Steam(t *testing.T) {
	n, catalog := newNormalizer(t, "strict")
	raw := &extract.RawTable{
		Columns: []string{"respondent_id", "plant_name", "tot_capacity", "net_generation"},
		Rows: [][]string{
			{"2", "Valmy Unit 2", "289.0", "1150220.5"},
			{"1", "Boardman", "585.5", "3023876.4"},
		},
	}

	ct, stats, err := n.Normalize(ferc1SteamPart(2020), raw)
	require.NoError(t, err)

	assert.Equal(t, "plants_steam_ferc1", ct.Name)
	assert.Equal(t, []string{"utility_id_ferc1", "report_year", "plant_name", "capacity_mw", "net_generation_mwh", "plant_entity_id"}, ct.Columns)
	assert.Equal(t, catalog.Version, ct.SchemaVersion)
	assert.True(t, ct.UnitsApplied)

	// Rows come out sorted by natural key, generation converted from
	// the kWh the form reports in.
	require.Len(t, ct.Rows, 2)
	assert.Equal(t, Row{int64(1), int64(2020), "Boardman", 585.5, 3023.876, nil}, ct.Rows[0])
	assert.Equal(t, Row{int64(2), int64(2020), "Valmy Unit 2", 289.0, 1150.221, nil}, ct.Rows[1])
	assert.Equal(t, Stats{Rows: 2, Converted: 2}, stats)
}

func TestNormalizeDedup(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	raw := &extract.RawTable{
		Columns: []string{"respondent_id", "plant_name", "tot_capacity", "net_generation"},
		Rows: [][]string{
			{"1", "Boardman", "585.5", "1000.0"},
			{"1", "Boardman", "585.5", "2000.0"},
		},
	}

	ct, stats, err := n.Normalize(ferc1SteamPart(2020), raw)
	require.NoError(t, err)

	// First occurrence wins.
	require.Len(t, ct.Rows, 1)
	assert.Equal(t, 1.0, ct.Rows[0][4])
	assert.Equal(t, 1, stats.Dropped)
}

func TestNormalizeEIA860Renames(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	part := extract.Partition{Source: "eia860", Table: "plants_eia860", Year: 2020}

	t.Run("current era", func(t *testing.T) {
		raw := &extract.RawTable{
			Columns: []string{"Plant Code", "Plant Name", "Utility ID", "State", "County", "Nameplate Capacity (MW)", "CHP Plant"},
			Rows:    [][]string{{"286", "Boardman", "14354", "OR", "Morrow", "2,442.0", "N"}},
		}
		ct, _, err := n.Normalize(part, raw)
		require.NoError(t, err)
		require.Len(t, ct.Rows, 1)
		assert.Equal(t, Row{int64(286), int64(2020), "Boardman", int64(14354), "OR", "Morrow", 2442.0, false, nil}, ct.Rows[0])
	})

	t.Run("shouty era", func(t *testing.T) {
		raw := &extract.RawTable{
			Columns: []string{"PLANT_CODE", "PLANT_NAME", "UTILITY_ID", "STATE", "COUNTY", "NAMEPLATE"},
			Rows:    [][]string{{"286", "Boardman", "14354", "OR", "Morrow", "585.5"}},
		}
		old := extract.Partition{Source: "eia860", Table: "plants_eia860", Year: 2010}
		ct, _, err := n.Normalize(old, raw)
		require.NoError(t, err)
		require.Len(t, ct.Rows, 1)
		// The CHP flag did not exist yet.
		assert.Nil(t, ct.Rows[0][7])
	})
}

func TestNormalizeUncoveredYear(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	raw := &extract.RawTable{Columns: []string{"UTILITY_ID", "UTILITY_NAME", "STATE"}}
	part := extract.Partition{Source: "eia860", Table: "utilities_eia860", Year: 2008}

	_, _, err := n.Normalize(part, raw)
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "covers year 2008")
}

func TestNormalizeCategories(t *testing.T) {
	genFuelRaw := func(code string) *extract.RawTable {
		return &extract.RawTable{
			Columns: []string{"Plant Id", "YEAR", "Reported Fuel Type Code", "Total Fuel Consumption MMBtu", "Net Generation (Megawatthours)"},
			Rows:    [][]string{{"286", "2020", code, "1000.5", "350.2"}},
		}
	}
	part := extract.Partition{Source: "eia923", Table: "generation_fuel_eia923", Year: 2020}

	t.Run("mapped codes", func(t *testing.T) {
		n, _ := newNormalizer(t, "strict")
		ct, _, err := n.Normalize(part, genFuelRaw("BIT"))
		require.NoError(t, err)
		assert.Equal(t, "coal", ct.Rows[0][ct.ColumnIndex("fuel_type")])
		// report_year came from the raw YEAR column here.
		assert.Equal(t, int64(2020), ct.Rows[0][ct.ColumnIndex("report_year")])
	})

	t.Run("unmapped code strict", func(t *testing.T) {
		n, _ := newNormalizer(t, "strict")
		_, _, err := n.Normalize(part, genFuelRaw("XYZ"))
		var serr *SchemaError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "fuel_type", serr.Column)
		assert.Equal(t, 1, serr.Row)
	})

	t.Run("unmapped code lenient", func(t *testing.T) {
		n, _ := newNormalizer(t, "lenient")
		ct, stats, err := n.Normalize(part, genFuelRaw("XYZ"))
		require.NoError(t, err)
		assert.Empty(t, ct.Rows)
		assert.Equal(t, 1, stats.Rejected)
	})
}

func TestNormalizeMissingRequiredColumn(t *testing.T) {
	raw := &extract.RawTable{
		Columns: []string{"Utility Name", "State"},
		Rows:    [][]string{{"Idaho Power Co", "ID"}},
	}
	part := extract.Partition{Source: "eia860", Table: "utilities_eia860", Year: 2020}

	for _, strictness := range []string{"strict", "lenient"} {
		n, _ := newNormalizer(t, strictness)
		_, _, err := n.Normalize(part, raw)
		var serr *SchemaError
		require.ErrorAs(t, err, &serr, strictness)
		assert.Equal(t, "utility_id_eia", serr.Column)
		assert.Equal(t, 0, serr.Row)
		assert.Equal(t, part, serr.Partition)
	}
}

func TestNormalizeCoercionFailures(t *testing.T) {
	raw := &extract.RawTable{
		Columns: []string{"Plant Code", "Plant Name", "Utility ID", "State", "County", "Nameplate Capacity (MW)", "CHP Plant"},
		Rows:    [][]string{{"286", "Boardman", "14354", "OR", "Morrow", "n/a", "N"}},
	}
	part := extract.Partition{Source: "eia860", Table: "plants_eia860", Year: 2020}

	t.Run("strict", func(t *testing.T) {
		n, _ := newNormalizer(t, "strict")
		_, _, err := n.Normalize(part, raw)
		var serr *SchemaError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, "capacity_mw", serr.Column)
	})

	t.Run("lenient nulls optional columns", func(t *testing.T) {
		n, _ := newNormalizer(t, "lenient")
		ct, stats, err := n.Normalize(part, raw)
		require.NoError(t, err)
		require.Len(t, ct.Rows, 1)
		assert.Nil(t, ct.Rows[0][ct.ColumnIndex("capacity_mw")])
		assert.Equal(t, 1, stats.Nulled)
	})

	t.Run("lenient rejects over required columns", func(t *testing.T) {
		bad := &extract.RawTable{
			Columns: raw.Columns,
			Rows:    [][]string{{"", "Boardman", "14354", "OR", "Morrow", "585.5", "N"}},
		}
		n, _ := newNormalizer(t, "lenient")
		ct, stats, err := n.Normalize(part, bad)
		require.NoError(t, err)
		assert.Empty(t, ct.Rows)
		assert.Equal(t, 1, stats.Rejected)
	})
}

func TestNormalizeDates(t *testing.T) {
	n, _ := newNormalizer(t, "strict")

	receipts := &extract.RawTable{
		Columns: []string{"Plant Id", "RECEIPT_DATE", "FUEL_GROUP", "SUPPLIER", "QUANTITY_MMBTU", "FUEL_COST_MMBTU"},
		Rows:    [][]string{{"286", "20200315", "Coal", "Powder River Basin Mine", "150000.0", "1.85"}},
	}
	part := extract.Partition{Source: "eia923", Table: "fuel_receipts_eia923", Year: 2020}
	ct, _, err := n.Normalize(part, receipts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC), ct.Rows[0][ct.ColumnIndex("receipt_date")])
	// report_year was stamped from the partition; receipts carry none.
	assert.Equal(t, int64(2020), ct.Rows[0][ct.ColumnIndex("report_year")])

	cems := &extract.RawTable{
		Columns: []string{"STATE", "ORISPL_CODE", "UNITID", "OP_DATE", "OP_HOUR", "GLOAD (MW)", "HEAT_INPUT (mmBtu)", "SO2_MASS (lbs)", "NOX_MASS (lbs)", "CO2_MASS (tons)"},
		Rows:    [][]string{{"CO", "469", "1", "01-15-2020", "7", "285.0", "2953.2", "156.3", "89.1", "312.9"}},
	}
	cemsPart := extract.Partition{Source: "epacems", Table: "hourly_emissions_epacems", Year: 2020, Parts: map[string]string{"state": "CO"}}
	ct, _, err = n.Normalize(cemsPart, cems)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), ct.Rows[0][ct.ColumnIndex("op_date")])
	assert.Equal(t, int64(2020), ct.Rows[0][ct.ColumnIndex("year")])
}

func TestNormalizeCensusUnits(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	raw := &extract.RawTable{
		Columns: []string{"GEOID", "NAMELSAD", "STATEFP", "COUNTYFP", "ALAND_SQMI", "DP0010001"},
		Rows:    [][]string{{"16001010100", "Census Tract 101", "16", "001", "1.792", "4768"}},
	}
	part := extract.Partition{Source: "censusdp1tract", Table: "census_geographies"}

	ct, stats, err := n.Normalize(part, raw)
	require.NoError(t, err)
	require.Len(t, ct.Rows, 1)
	area, ok := ct.Rows[0][ct.ColumnIndex("area_land_sqkm")].(float64)
	require.True(t, ok)
	assert.InDelta(t, 4.641259, area, 1e-9)
	assert.Equal(t, int64(4768), ct.Rows[0][ct.ColumnIndex("population")])
	assert.Equal(t, 1, stats.Converted)
}

func TestNormalizeMissingPartitionYear(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	raw := &extract.RawTable{
		Columns: []string{"Plant Id", "RECEIPT_DATE", "FUEL_GROUP", "SUPPLIER", "QUANTITY_MMBTU", "FUEL_COST_MMBTU"},
	}
	part := extract.Partition{Source: "eia923", Table: "fuel_receipts_eia923"}

	_, _, err := n.Normalize(part, raw)
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
	assert.Contains(t, err.Error(), "covers year 0")
}

func TestPartitionValue(t *testing.T) {
	v, err := partitionValue(extract.Partition{Year: 2020}, "year")
	require.NoError(t, err)
	assert.Equal(t, int64(2020), v)

	_, err = partitionValue(extract.Partition{}, "year")
	require.Error(t, err)

	v, err = partitionValue(extract.Partition{Parts: map[string]string{"state": "CO"}}, "state")
	require.NoError(t, err)
	assert.Equal(t, "CO", v)

	_, err = partitionValue(extract.Partition{}, "state")
	require.Error(t, err)

	_, err = partitionValue(extract.Partition{}, "county")
	require.Error(t, err)
}

func TestNormalizeWrongSource(t *testing.T) {
	n, _ := newNormalizer(t, "strict")
	part := extract.Partition{Source: "eia860", Table: "utilities_ferc1", Year: 2020}
	_, _, err := n.Normalize(part, &extract.RawTable{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fed by source ferc1")
}

func utilitiesPartition(t *testing.T, n *Normalizer, year int, rows [][]string) *CanonicalTable {
	t.Helper()
	raw := &extract.RawTable{
		Columns: []string{"respondent_id", "respondent_name", "state"},
		Rows:    rows,
	}
	part := extract.Partition{Source: "ferc1", Table: "utilities_ferc1", Year: year}
	ct, _, err := n.Normalize(part, raw)
	require.NoError(t, err)
	return ct
}

func TestMergeIsOrderIndependent(t *testing.T) {
	n, catalog := newNormalizer(t, "strict")
	tbl, err := catalog.Table("utilities_ferc1")
	require.NoError(t, err)

	y2020 := utilitiesPartition(t, n, 2020, [][]string{
		{"2", "PacifiCorp", "OR"},
		{"1", "Idaho Power Co", "ID"},
	})
	y2021 := utilitiesPartition(t, n, 2021, [][]string{
		{"1", "Idaho Power Co", "ID"},
	})

	forward, err := Merge(tbl, []*CanonicalTable{y2020, y2021})
	require.NoError(t, err)
	backward, err := Merge(tbl, []*CanonicalTable{y2021, y2020})
	require.NoError(t, err)

	assert.Equal(t, forward, backward)
	require.Len(t, forward.Rows, 3)
	assert.Equal(t, Row{int64(1), int64(2020), "Idaho Power Co", "ID", nil}, forward.Rows[0])
	assert.Equal(t, Row{int64(1), int64(2021), "Idaho Power Co", "ID", nil}, forward.Rows[1])
	assert.Equal(t, Row{int64(2), int64(2020), "PacifiCorp", "OR", nil}, forward.Rows[2])
}

func TestMergeRejectsOverlap(t *testing.T) {
	n, catalog := newNormalizer(t, "strict")
	tbl, err := catalog.Table("utilities_ferc1")
	require.NoError(t, err)

	part := utilitiesPartition(t, n, 2020, [][]string{{"1", "Idaho Power Co", "ID"}})
	_, err = Merge(tbl, []*CanonicalTable{part, part})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate natural key")
}

func TestMergeRejectsSchemaDrift(t *testing.T) {
	n, catalog := newNormalizer(t, "strict")
	tbl, err := catalog.Table("utilities_ferc1")
	require.NoError(t, err)

	a := utilitiesPartition(t, n, 2020, [][]string{{"1", "Idaho Power Co", "ID"}})
	b := utilitiesPartition(t, n, 2021, [][]string{{"1", "Idaho Power Co", "ID"}})
	b.SchemaVersion = "stale"

	_, err = Merge(tbl, []*CanonicalTable{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disagree on schema")

	_, err = Merge(tbl, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no partitions")
}

func TestNewTable(t *testing.T) {
	catalog, err := schema.Load()
	require.NoError(t, err)
	tbl, err := catalog.Table("utilities")
	require.NoError(t, err)

	rows := []Row{
		{int64(2), int64(2020), "PacifiCorp", "OR"},
		{int64(1), int64(2020), "Idaho Power Co", "ID"},
	}
	ct, err := NewTable(tbl, catalog.Version, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ct.Rows[0][0])
	assert.Equal(t, int64(2), ct.Rows[1][0])

	_, err = NewTable(tbl, catalog.Version, []Row{
		{int64(1), int64(2020), "Idaho Power Co", "ID"},
		{int64(1), int64(2020), "Idaho Power Company", "ID"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate natural key")

	_, err = NewTable(tbl, catalog.Version, []Row{{int64(1)}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row has 1 values")
}
