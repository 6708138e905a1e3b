package duckdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridetl/pkg/adapter"
)

func plantsDef() adapter.Table {
	return adapter.Table{
		Name: "plants",
		Columns: []adapter.Column{
			{Name: "plant_entity_id", Kind: adapter.KindInteger},
			{Name: "report_year", Kind: adapter.KindInteger},
			{Name: "plant_name", Kind: adapter.KindText},
			{Name: "capacity_mw", Kind: adapter.KindDecimal, Nullable: true},
			{Name: "online_date", Kind: adapter.KindDate, Nullable: true},
			{Name: "chp", Kind: adapter.KindBool, Nullable: true},
		},
		PrimaryKey: []string{"plant_entity_id", "report_year"},
	}
}

func TestConnectRequiresPath(t *testing.T) {
	adp := New(nil)
	err := adp.Connect(context.Background(), adapter.Config{})
	require.ErrorContains(t, err, "requires a path")
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{Path: ":memory:"}))
	defer func() { _ = adp.Close() }()

	require.NoError(t, adp.CreateTable(ctx, plantsDef()))
	cols := []string{"plant_entity_id", "report_year", "plant_name", "capacity_mw", "online_date", "chp"}
	rows := [][]any{
		{int64(1), int64(2020), "Boardman", 585.5, time.Date(1980, 7, 1, 0, 0, 0, 0, time.UTC), false},
		{int64(2), int64(2020), "Colstrip", nil, nil, nil},
	}
	require.NoError(t, adp.InsertRows(ctx, "plants", cols, rows))

	// In-memory promote publishes nothing and closes nothing.
	require.NoError(t, adp.Promote(ctx))
	require.True(t, adp.IsConnected())

	var n int
	require.NoError(t, adp.DB.QueryRow("SELECT COUNT(*) FROM plants").Scan(&n))
	assert.Equal(t, 2, n)

	var name string
	var capacity float64
	require.NoError(t, adp.DB.QueryRow(
		"SELECT plant_name, capacity_mw FROM plants WHERE plant_entity_id = 1").Scan(&name, &capacity))
	assert.Equal(t, "Boardman", name)
	assert.InDelta(t, 585.5, capacity, 1e-9)
}

func TestFilePromote(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "out.duckdb")

	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{Path: target}))
	defer func() { _ = adp.Discard() }()

	require.NoError(t, adp.CreateTable(ctx, plantsDef()))
	cols := []string{"plant_entity_id", "report_year", "plant_name", "capacity_mw", "online_date", "chp"}
	require.NoError(t, adp.InsertRows(ctx, "plants", cols, [][]any{
		{int64(1), int64(2020), "Boardman", 585.5, nil, nil},
	}))

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err), "target must not exist before promote")

	require.NoError(t, adp.Promote(ctx))
	_, err = os.Stat(target + ".staging")
	assert.True(t, os.IsNotExist(err), "staging gone after promote")

	db, err := sql.Open("duckdb", target)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM plants").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDiscardRemovesStaging(t *testing.T) {
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "out.duckdb")

	adp := New(nil)
	require.NoError(t, adp.Connect(ctx, adapter.Config{Path: target}))
	require.NoError(t, adp.CreateTable(ctx, plantsDef()))
	require.NoError(t, adp.Discard())

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(target + ".staging")
	assert.True(t, os.IsNotExist(err))
}

func TestRegistered(t *testing.T) {
	factory, ok := adapter.Get("duckdb")
	require.True(t, ok, "duckdb should self-register")
	assert.NotNil(t, factory(nil))
}
