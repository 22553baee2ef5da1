package barstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestUpsertAndReadRange(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	bars := []Bar{
		{TradeDate: "20240102", Close: f(10.5), Volume: f(1000)},
		{TradeDate: "20240103", Close: f(10.8), Volume: f(1100)},
	}
	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", bars))

	got, err := s.ReadRange(assetID, PeriodNone, "none", "20240101", "20240110")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "20240102", got[0].TradeDate)
	assert.Equal(t, 10.5, *got[0].Close)
}

func TestUpsertConflictReplacesNonKeyFields(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{{TradeDate: "20240102", Close: f(10.5)}}))
	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{{TradeDate: "20240102", Close: f(11.0)}}))

	got, err := s.ReadRange(assetID, PeriodNone, "none", "20240102", "20240102")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 11.0, *got[0].Close)
}

func TestUpsertEmptyBatchIsNoop(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", nil))
	cov, err := s.Coverage(assetID, PeriodNone, "none")
	require.NoError(t, err)
	assert.Nil(t, cov)
}

func TestUpsertRejectsMissingTradeDate(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	err := s.Upsert(assetID, PeriodNone, "none", []Bar{{Close: f(1.0)}})
	assert.Error(t, err)

	cov, err := s.Coverage(assetID, PeriodNone, "none")
	require.NoError(t, err)
	assert.Nil(t, cov, "partially applied batch must not persist any row")
}

func TestCoverage(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{
		{TradeDate: "20240102", Close: f(1)},
		{TradeDate: "20240103", Close: f(2)},
		{TradeDate: "20240104", Close: f(3)},
	}))

	cov, err := s.Coverage(assetID, PeriodNone, "none")
	require.NoError(t, err)
	require.NotNil(t, cov)
	assert.Equal(t, "20240102", cov.Earliest)
	assert.Equal(t, "20240104", cov.Latest)
	assert.Equal(t, 3, cov.Count)
}

func TestDeleteWindow(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{
		{TradeDate: "20240102", Close: f(1)},
		{TradeDate: "20240103", Close: f(2)},
	}))
	require.NoError(t, s.Delete(assetID, PeriodNone, "none", "20240102", "20240102"))

	got, err := s.ReadRange(assetID, PeriodNone, "none", "20240101", "20240110")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20240103", got[0].TradeDate)
}

func TestDeleteAll(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{{TradeDate: "20240102", Close: f(1)}}))
	require.NoError(t, s.Delete(assetID, PeriodNone, "none", "", ""))

	cov, err := s.Coverage(assetID, PeriodNone, "none")
	require.NoError(t, err)
	assert.Nil(t, cov)
}

func TestTradeDatesWithData(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	s := New(db.Conn(), zerolog.Nop())
	assetID := seedAsset(t, db)

	require.NoError(t, s.Upsert(assetID, PeriodNone, "none", []Bar{
		{TradeDate: "20240102", Close: f(1)},
		{TradeDate: "20240104", Close: f(2)},
	}))

	present, err := s.TradeDatesWithData(assetID, PeriodNone, "none", "20240101", "20240105")
	require.NoError(t, err)
	assert.Len(t, present, 2)
	_, ok := present["20240103"]
	assert.False(t, ok)
}
