package historical

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/assetregistry"
	"github.com/aristath/quantdb/internal/barstore"
	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/coverageindex"
	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/fetcher/fake"
	"github.com/aristath/quantdb/internal/store"
	"github.com/aristath/quantdb/internal/ttlcache"
)

// january2024CNATradingDays are the 9 CN_A trading days in [20240102, 20240112].
var january2024CNATradingDays = []string{
	"20240102", "20240103", "20240104", "20240105",
	"20240108", "20240109", "20240110", "20240111", "20240112",
}

func newTestEngine(t *testing.T) (*Engine, *fake.Fetcher) {
	t.Helper()
	db, cleanup := store.NewTestDB(t)
	t.Cleanup(cleanup)

	cal := calendar.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, cal.Refresh(""))

	f := fake.New()
	reg := assetregistry.New(db.Conn(), f, zerolog.Nop())
	bs := barstore.New(db.Conn(), zerolog.Nop())
	ci := coverageindex.New(db.Conn(), zerolog.Nop())
	ttl := ttlcache.New(db.Conn(), zerolog.Nop(), 0)

	eng := New(db.Conn(), cal, bs, ci, reg, f, ttl, nil, Config{}, zerolog.Nop())
	return eng, f
}

func barsFor(dates []string) []fetcher.Bar {
	bars := make([]fetcher.Bar, len(dates))
	for i, d := range dates {
		close := 10.0 + float64(i)
		bars[i] = fetcher.Bar{TradeDate: d, Close: &close}
	}
	return bars
}

func TestGetHistory_S1_ColdRead(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("600000", "20240102", "20240112", "none", barsFor(january2024CNATradingDays))

	bars, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
	assert.Equal(t, "20240102", bars[0].TradeDate)
	assert.Equal(t, "20240112", bars[len(bars)-1].TradeDate)
	assert.Len(t, f.Calls(), 1)
}

func TestGetHistory_S2_WarmRepeat(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("600000", "20240102", "20240112", "none", barsFor(january2024CNATradingDays))

	_, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)

	bars, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
	assert.Len(t, f.Calls(), 1, "second call must not trigger any upstream fetch")
}

func TestGetHistory_S3_PartialOverlapLeft(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("600000", "20240102", "20240112", "none", barsFor(january2024CNATradingDays))
	_, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)

	leftDates := []string{"20231226", "20231227", "20231228", "20231229"}
	f.SetBars("600000", "20231226", "20231229", "none", barsFor(leftDates))

	bars, err := eng.GetHistory(context.Background(), "600000", "20231226", "20240105", "none", Options{})
	require.NoError(t, err)
	assert.Equal(t, "20231226", bars[0].TradeDate)
	assert.Equal(t, "20240105", bars[len(bars)-1].TradeDate)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "20231226", calls[1].Start)
	assert.Equal(t, "20231229", calls[1].End)
}

func TestGetHistory_S6_HongKongInference(t *testing.T) {
	eng, f := newTestEngine(t)
	hkDates := []string{"20240102", "20240103", "20240104", "20240105", "20240108", "20240109", "20240110", "20240111", "20240112"}
	f.SetBars("00700", "20240102", "20240112", "none", barsFor(hkDates))

	bars, err := eng.GetHistory(context.Background(), "00700", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)
	assert.Equal(t, "HK", f.Calls()[0].Market)
	assert.NotEmpty(t, bars)
}

func TestGetHistory_S7_UpstreamOutageWithPartialCache(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("600000", "20240102", "20240112", "none", barsFor(january2024CNATradingDays))
	_, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)

	f.SetError(errs.UpstreamError("network_error", false, nil))

	bars, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240126", "none", Options{})
	require.Error(t, err)
	var qerr *errs.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, errs.KindPartialData, qerr.Kind)
	assert.NotEmpty(t, bars, "previously cached bars must still be returned")
	assert.Equal(t, "20240102", bars[0].TradeDate)
}

func TestGetHistory_UnrecognizedSymbol(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetHistory(context.Background(), "ABCDEF", "20240102", "20240112", "none", Options{})
	require.Error(t, err)
	var qerr *errs.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, errs.KindUnrecognizedSymbol, qerr.Kind)
}

func TestGetHistory_InvalidAdjustMode(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "bogus", Options{})
	require.Error(t, err)
	var qerr *errs.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, errs.KindInvalidAdjustMode, qerr.Kind)
}

func TestGetHistory_AdjustModesDoNotShareBars(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("600000", "20240102", "20240112", "none", barsFor(january2024CNATradingDays))
	f.SetBars("600000", "20240102", "20240112", "qfq", barsFor(january2024CNATradingDays))

	noneBars, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "none", Options{})
	require.NoError(t, err)
	qfqBars, err := eng.GetHistory(context.Background(), "600000", "20240102", "20240112", "qfq", Options{})
	require.NoError(t, err)

	assert.Len(t, noneBars, 9)
	assert.Len(t, qfqBars, 9)
	assert.Len(t, f.Calls(), 2, "each adjust mode is an independent series and must be fetched separately")
}

func TestGetIndexSeries_ColdReadSharesBarStoreViaPeriodColumn(t *testing.T) {
	eng, f := newTestEngine(t)
	// fake.FetchIndexSeries delegates to FetchBars with period in the
	// adjustMode slot, matching its SetBars key shape.
	f.SetBars("000300", "20240102", "20240112", "daily", barsFor(january2024CNATradingDays))

	bars, err := eng.GetIndexSeries(context.Background(), "000300", "20240102", "20240112", "daily", Options{})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
	assert.Len(t, f.Calls(), 1)

	// A second call must be served entirely from BarStore.
	bars, err = eng.GetIndexSeries(context.Background(), "000300", "20240102", "20240112", "daily", Options{})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
	assert.Len(t, f.Calls(), 1, "warm re-read must not trigger another upstream fetch")
}

func TestGetIndexSeries_InvalidPeriod(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GetIndexSeries(context.Background(), "000300", "20240102", "20240112", "bogus", Options{})
	require.Error(t, err)
	var qerr *errs.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, errs.KindInvalidPeriod, qerr.Kind)
}

func TestGetIndexSeries_DefaultsToDailyPeriod(t *testing.T) {
	eng, f := newTestEngine(t)
	f.SetBars("000300", "20240102", "20240112", "daily", barsFor(january2024CNATradingDays))

	bars, err := eng.GetIndexSeries(context.Background(), "000300", "20240102", "20240112", "", Options{})
	require.NoError(t, err)
	assert.Len(t, bars, 9)
}

func TestGetHistory_S5_ConcurrentSingleFlight(t *testing.T) {
	eng, f := newTestEngine(t)
	janDates := []string{
		"20240102", "20240103", "20240104", "20240105", "20240108", "20240109", "20240110",
		"20240111", "20240112", "20240115", "20240116", "20240117", "20240118", "20240119",
		"20240122", "20240123", "20240124", "20240125", "20240126", "20240129", "20240130", "20240131",
		"20240201",
	}
	f.SetBars("000001", "20240102", "20240201", "none", barsFor(janDates))
	f.SetLatency(20 * time.Millisecond)

	var wg sync.WaitGroup
	results := make([][]barstore.Bar, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			bars, err := eng.GetHistory(context.Background(), "000001", "20240101", "20240201", "none", Options{})
			results[idx] = bars
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0], results[1])
	assert.Len(t, f.Calls(), 1, "concurrent identical fingerprint calls must produce exactly one upstream fetch")
}
