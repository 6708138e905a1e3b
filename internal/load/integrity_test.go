package load

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridetl/internal/schema"
	"github.com/leapstack-labs/gridetl/internal/transform"
)

func testCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.Load()
	require.NoError(t, err)
	return cat
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

func TestCheckIntegrityPasses(t *testing.T) {
	cat := testCatalog(t)
	tables := map[string]*transform.CanonicalTable{
		"utilities": ctable(t, cat, "utilities", []transform.Row{
			{int64(1), int64(2020), "Idaho Power", "ID"},
		}),
		"utilities_ferc1": ctable(t, cat, "utilities_ferc1", []transform.Row{
			{int64(145), int64(2020), "Idaho Power Co", "ID", int64(1)},
		}),
	}
	require.NoError(t, CheckIntegrity(cat, tables))
}

func TestCheckIntegrityReportsMissingRef(t *testing.T) {
	cat := testCatalog(t)
	tables := map[string]*transform.CanonicalTable{
		"utilities": ctable(t, cat, "utilities", []transform.Row{
			{int64(1), int64(2020), "Idaho Power", "ID"},
		}),
		"utilities_ferc1": ctable(t, cat, "utilities_ferc1", []transform.Row{
			{int64(145), int64(2020), "Idaho Power Co", "ID", int64(1)},
			{int64(87), int64(2020), "Sierra Pacific", "NV", int64(9)},
			{int64(87), int64(2021), "Sierra Pacific", "NV", int64(9)},
		}),
	}

	err := CheckIntegrity(cat, tables)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "utilities_ferc1", ie.Table)
	assert.Equal(t, "utilities", ie.RefTable)
	assert.Equal(t, []string{"utility_entity_id", "report_year"}, ie.Columns)
	assert.Equal(t, 2, ie.Rows)
	assert.Equal(t, "(9, 2020)", ie.Sample)
}

func TestCheckIntegrityExemptsNullKeys(t *testing.T) {
	cat := testCatalog(t)
	tables := map[string]*transform.CanonicalTable{
		"utilities": ctable(t, cat, "utilities", nil),
		"utilities_ferc1": ctable(t, cat, "utilities_ferc1", []transform.Row{
			{int64(145), int64(2020), "Idaho Power Co", "ID", nil},
		}),
	}
	require.NoError(t, CheckIntegrity(cat, tables))
}

func TestCheckIntegritySkipsAbsentTargets(t *testing.T) {
	cat := testCatalog(t)
	tables := map[string]*transform.CanonicalTable{
		"plants_steam_ferc1": ctable(t, cat, "plants_steam_ferc1", []transform.Row{
			{int64(145), int64(2020), "Boardman", 585.5, 3023.876, int64(7)},
		}),
	}
	require.NoError(t, CheckIntegrity(cat, tables))
}

func TestCheckIntegrityJoinsViolations(t *testing.T) {
	cat := testCatalog(t)
	tables := map[string]*transform.CanonicalTable{
		"utilities": ctable(t, cat, "utilities", nil),
		"utilities_ferc1": ctable(t, cat, "utilities_ferc1", []transform.Row{
			{int64(145), int64(2020), "Idaho Power Co", "ID", int64(1)},
		}),
		"utilities_eia860": ctable(t, cat, "utilities_eia860", []transform.Row{
			{int64(14354), int64(2020), "IDAHO POWER COMPANY", "ID", int64(2)},
		}),
	}

	err := CheckIntegrity(cat, tables)
	require.Error(t, err)
	assert.ErrorContains(t, err, "utilities_ferc1")
	assert.ErrorContains(t, err, "utilities_eia860")
	var ie *IntegrityError
	assert.True(t, errors.As(err, &ie))
}

func TestKeyOf(t *testing.T) {
	assert.Equal(t, "145", keyOf(int64(145)))
	assert.Equal(t, "585.5", keyOf(585.5))
	assert.Equal(t, "true", keyOf(true))
	assert.Equal(t, "Boardman", keyOf("Boardman"))
	assert.Equal(t, "2020-03-15", keyOf(time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)))
}
