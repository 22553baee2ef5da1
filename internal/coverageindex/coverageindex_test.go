package coverageindex

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/barstore"
	"github.com/aristath/quantdb/internal/store"
)

func f(v float64) *float64 { return &v }

func seedAsset(t *testing.T, db *store.DB) int64 {
	t.Helper()
	res, err := db.Conn().Exec(`INSERT INTO assets (symbol, market, created_at) VALUES (?, ?, 0)`, "600000", "CN_A")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestGet_NoRecord(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	idx := New(db.Conn(), zerolog.Nop())

	r, err := idx.Get(1, barstore.PeriodNone, "none")
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestUpdate_AgreesWithBarStoreAfterUpsert(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	bs := barstore.New(db.Conn(), zerolog.Nop())
	idx := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, bs.Upsert(assetID, barstore.PeriodNone, "none", []barstore.Bar{
		{TradeDate: "20240102", Close: f(1)},
		{TradeDate: "20240103", Close: f(2)},
		{TradeDate: "20240104", Close: f(3)},
	}))
	require.NoError(t, idx.Update(assetID, barstore.PeriodNone, "none"))

	rec, err := idx.Get(assetID, barstore.PeriodNone, "none")
	require.NoError(t, err)
	require.NotNil(t, rec)

	cov, err := bs.Coverage(assetID, barstore.PeriodNone, "none")
	require.NoError(t, err)
	require.NotNil(t, cov)

	assert.Equal(t, cov.Earliest, rec.Earliest)
	assert.Equal(t, cov.Latest, rec.Latest)
	assert.Equal(t, cov.Count, rec.BarCount)
}

func TestUpdate_NoDoubleCountOnOverlappingUpsert(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	bs := barstore.New(db.Conn(), zerolog.Nop())
	idx := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, bs.Upsert(assetID, barstore.PeriodNone, "none", []barstore.Bar{
		{TradeDate: "20240102", Close: f(1)},
		{TradeDate: "20240103", Close: f(2)},
	}))
	require.NoError(t, idx.Update(assetID, barstore.PeriodNone, "none"))

	// Re-upsert an overlapping batch that touches one already-stored date.
	require.NoError(t, bs.Upsert(assetID, barstore.PeriodNone, "none", []barstore.Bar{
		{TradeDate: "20240103", Close: f(2.5)},
		{TradeDate: "20240104", Close: f(3)},
	}))
	require.NoError(t, idx.Update(assetID, barstore.PeriodNone, "none"))

	rec, err := idx.Get(assetID, barstore.PeriodNone, "none")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.BarCount)
}

func TestRebuild_EmptyClearsRecord(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	idx := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, idx.Rebuild(assetID, barstore.PeriodNone, "none"))
	rec, err := idx.Get(assetID, barstore.PeriodNone, "none")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordValidate_Corruption(t *testing.T) {
	r := &Record{AssetID: 1, Earliest: "20240110", Latest: "20240101"}
	assert.Error(t, r.Validate())

	r2 := &Record{AssetID: 1, Earliest: "20240101", Latest: "20240110", BarCount: -1}
	assert.Error(t, r2.Validate())
}
