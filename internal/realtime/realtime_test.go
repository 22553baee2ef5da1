package realtime

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/fetcher/fake"
	"github.com/aristath/quantdb/internal/store"
	"github.com/aristath/quantdb/internal/ttlcache"
)

func newTestEngine(t *testing.T) (*Engine, *fake.Fetcher) {
	t.Helper()
	db, cleanup := store.NewTestDB(t)
	t.Cleanup(cleanup)

	f := fake.New()
	ttl := ttlcache.New(db.Conn(), zerolog.Nop(), 0)
	return New(f, ttl, zerolog.Nop()), f
}

func TestGetQuote_ColdThenWarm(t *testing.T) {
	eng, f := newTestEngine(t)

	quote, err := eng.GetQuote(context.Background(), "600000", false)
	require.NoError(t, err)
	assert.Equal(t, "600000", quote.Symbol)
	assert.Len(t, f.Calls(), 0, "fake FetchQuote does not record Calls(); only FetchBars does")

	quote2, err := eng.GetQuote(context.Background(), "600000", false)
	require.NoError(t, err)
	assert.Equal(t, quote, quote2)
}

func TestGetQuote_ForceRefreshBypassesCache(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.GetQuote(context.Background(), "600000", false)
	require.NoError(t, err)

	quote, err := eng.GetQuote(context.Background(), "600000", true)
	require.NoError(t, err)
	assert.Equal(t, "600000", quote.Symbol)
}

func TestGetQuote_UnrecognizedSymbol(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetQuote(context.Background(), "ABCDEF", false)
	assert.Error(t, err)
}

func TestGetStockList_CachesAcrossCalls(t *testing.T) {
	eng, _ := newTestEngine(t)

	list, err := eng.GetStockList(context.Background(), "CN_A", false)
	require.NoError(t, err)
	assert.Empty(t, list)

	list2, err := eng.GetStockList(context.Background(), "CN_A", false)
	require.NoError(t, err)
	assert.Equal(t, list, list2)
}

func TestGetIndexList_Default(t *testing.T) {
	eng, _ := newTestEngine(t)
	list, err := eng.GetIndexList(context.Background(), "", false)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetIndexQuote_DelegatesToGetQuote(t *testing.T) {
	eng, _ := newTestEngine(t)
	quote, err := eng.GetIndexQuote(context.Background(), "000300", false)
	require.NoError(t, err)
	assert.Equal(t, "000300", quote.Symbol)
}

func TestGetFinancialSummary_UnknownMarket(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetFinancialSummary(context.Background(), "600000", "BOGUS", false)
	assert.Error(t, err)
}

func TestGetFinancialSummary_ColdThenWarm(t *testing.T) {
	eng, _ := newTestEngine(t)

	summary, err := eng.GetFinancialSummary(context.Background(), "600000", "CN_A", false)
	require.NoError(t, err)
	assert.Equal(t, "600000", summary.Symbol)

	summary2, err := eng.GetFinancialSummary(context.Background(), "600000", "CN_A", false)
	require.NoError(t, err)
	assert.Equal(t, summary, summary2)
}
