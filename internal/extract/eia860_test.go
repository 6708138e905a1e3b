package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridetl/internal/testutil"
)

const eia860Utilities2020 = `EIA-860 Annual Electric Generator Report - Utility Level Data 2020
Utility ID,Utility Name,State
5027,Idaho Power Co,ID
14354,PacifiCorp,OR
`

const eia860Plants2020 = `EIA-860 Annual Electric Generator Report - Plant Level Data 2020
Plant Code,Plant Name,Utility ID,State,County,Nameplate Capacity (MW),CHP Plant
286,Boardman,14354,OR,Morrow,585.5,N
136,Jim Bridger,14354,WY,Sweetwater,"2,442.0",N
`

func eia860Path(t *testing.T, members map[string][]byte) string {
	t.Helper()
	return testutil.WriteFile(t, t.TempDir(), "eia860.zip", testutil.Zip(t, members))
}

func TestEIA860Utilities(t *testing.T) {
	path := eia860Path(t, map[string][]byte{
		"1___Utility_Y2020.csv": []byte(eia860Utilities2020),
		"2___Plant_Y2020.csv":   []byte(eia860Plants2020),
	})

	x := eia860Extractor{}
	part := Partition{Source: "eia860", Table: "utilities_eia860", Year: 2020}
	rt, stats, err := x.Extract(context.Background(), path, part, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Utility ID", "Utility Name", "State"}, rt.Columns)
	require.Equal(t, 2, stats.Rows)
	assert.Equal(t, []string{"5027", "Idaho Power Co", "ID"}, rt.Rows[0])
}

func TestEIA860Plants(t *testing.T) {
	path := eia860Path(t, map[string][]byte{
		"2___Plant_Y2020.csv": []byte(eia860Plants2020),
	})

	x := eia860Extractor{}
	part := Partition{Source: "eia860", Table: "plants_eia860", Year: 2020}
	rt, _, err := x.Extract(context.Background(), path, part, Options{})
	require.NoError(t, err)

	require.Len(t, rt.Rows, 2)
	// Quoted thousands separators survive extraction untouched.
	assert.Equal(t, "2,442.0", rt.Rows[1][5])
}

func TestEIA860MemberNamesTrackYear(t *testing.T) {
	path := eia860Path(t, map[string][]byte{
		"1___Utility_Y2019.csv": []byte(eia860Utilities2020),
	})
	x := eia860Extractor{}

	rt, _, err := x.Extract(context.Background(), path,
		Partition{Source: "eia860", Table: "utilities_eia860", Year: 2019}, Options{})
	require.NoError(t, err)
	assert.Len(t, rt.Rows, 2)

	_, _, err = x.Extract(context.Background(), path,
		Partition{Source: "eia860", Table: "utilities_eia860", Year: 2020}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1___Utility_Y2020.csv not found")
}

func TestEIA860FieldCount(t *testing.T) {
	raw := "banner\nUtility ID,Utility Name,State\n5027,Idaho Power Co,ID,extra\n14354,PacifiCorp,OR\n"
	path := eia860Path(t, map[string][]byte{"1___Utility_Y2020.csv": []byte(raw)})
	x := eia860Extractor{}
	part := Partition{Source: "eia860", Table: "utilities_eia860", Year: 2020}

	_, _, err := x.Extract(context.Background(), path, part, Options{})
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, 1, xerr.Row)
	assert.Contains(t, xerr.Error(), "expected 3 fields, got 4")

	rt, stats, err := x.Extract(context.Background(), path, part, Options{Policy: PolicySkip, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	assert.Len(t, rt.Rows, 1)
	assert.Equal(t, 1, stats.Skipped)
}

func TestEIA860UnknownTable(t *testing.T) {
	x := eia860Extractor{}
	_, _, err := x.Extract(context.Background(), "unused.zip",
		Partition{Source: "eia860", Table: "generators_eia860", Year: 2020}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not feed table")
}
