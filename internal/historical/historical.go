// Package historical implements the user-visible historical-series
// contract: get_history. It is the orchestration layer that ties
// Calendar, AssetRegistry, GapResolver, Fetcher, BarStore, CoverageIndex
// and TTLCache together behind a per-fingerprint single-flight lock,
// generalizing the seed-vs-incremental price-sync shape the ecosystem
// uses elsewhere (check existing coverage, fetch only what's missing,
// validate, upsert transactionally, rate-limit) to a GapResolver-driven
// partial refetch instead of an always-refetch-N-years policy.
package historical

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/assetregistry"
	"github.com/aristath/quantdb/internal/barstore"
	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/coverageindex"
	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/gapresolver"
	"github.com/aristath/quantdb/internal/retry"
	"github.com/aristath/quantdb/internal/ttlcache"
)

// negativeCoverageTTLHistorical and negativeCoverageTTLToday are the
// recommended TTLs for a recorded "no data for this day" tombstone.
const (
	negativeCoverageTTLHistorical = 7 * 24 * time.Hour
	negativeCoverageTTLToday      = time.Hour
)

// MetricsRecorder is the subset of internal/metrics.Metrics the engine
// needs; kept as a local interface so historical does not import
// metrics (metrics imports nothing from historical, so there is no
// cycle either way — this just keeps the engine testable without a
// real Metrics value).
type MetricsRecorder interface {
	RecordUpstreamCall(window gapresolver.Window, latency time.Duration, err error)
	RecordCacheHit(n int)
	RecordInflightDedup()
	RecordDegraded()
	RecordBarsStored(n int)
}

type noopMetrics struct{}

func (noopMetrics) RecordUpstreamCall(gapresolver.Window, time.Duration, error) {}
func (noopMetrics) RecordCacheHit(int)                                         {}
func (noopMetrics) RecordInflightDedup()                                       {}
func (noopMetrics) RecordDegraded()                                            {}
func (noopMetrics) RecordBarsStored(int)                                       {}

// Options customizes a single get_history call.
type Options struct {
	ForceRefresh  bool
	AllowFallback bool
}

// Engine is the HistoricalEngine implementation.
type Engine struct {
	db       *sql.DB
	cal      *calendar.Calendar
	bars     *barstore.Store
	coverage *coverageindex.Index
	assets   *assetregistry.Registry
	fetch    fetcher.Fetcher
	ttl      *ttlcache.Cache
	metrics  MetricsRecorder
	log      zerolog.Logger

	retryPolicy retry.Policy
	maxInFlight chan struct{}

	fpLocks sync.Map // fingerprint string -> *sync.Mutex
}

// Config bundles the backpressure knob; everything else is a
// constructor dependency.
type Config struct {
	MaxConcurrentUpstream int // recommended default 8
}

func New(db *sql.DB, cal *calendar.Calendar, bars *barstore.Store, coverage *coverageindex.Index,
	assets *assetregistry.Registry, fetch fetcher.Fetcher, ttl *ttlcache.Cache, metrics MetricsRecorder,
	cfg Config, log zerolog.Logger) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	maxConcurrent := cfg.MaxConcurrentUpstream
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Engine{
		db: db, cal: cal, bars: bars, coverage: coverage, assets: assets, fetch: fetch, ttl: ttl,
		metrics: metrics, log: log.With().Str("component", "historical").Logger(),
		retryPolicy: retry.Default(isRetryableUpstream),
		maxInFlight: make(chan struct{}, maxConcurrent),
	}
}

func isRetryableUpstream(err error) bool {
	var e *errs.Error
	if errors.As(err, &e) {
		return e.Kind == errs.KindUpstreamError && e.Retryable
	}
	return false
}

// GetHistory is the get_history contract: on success, returns exactly
// trading_days(market(symbol), start, end) bars ascending by date.
func (e *Engine) GetHistory(ctx context.Context, symbol, start, end, adjustMode string, opts Options) ([]barstore.Bar, error) {
	adjustMode, err := normalizeAdjustMode(adjustMode)
	if err != nil {
		return nil, err
	}
	start, end = normalizeDate(start), normalizeDate(end)
	if start == "" || end == "" || end < start {
		return nil, errs.InvalidDateRange(start, end)
	}

	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return nil, err
	}
	assetID, err := e.assets.Resolve(symbol)
	if err != nil {
		return nil, err
	}

	fingerprint := fmt.Sprintf("%d:%s", assetID, adjustMode)
	unlock, dedup := e.lockFingerprint(fingerprint)
	defer unlock()
	if dedup {
		e.metrics.RecordInflightDedup()
	}

	tradingDays, degraded, err := e.tradingDaysWithFallback(market, start, end, opts.AllowFallback)
	if err != nil {
		return nil, err
	}
	if degraded {
		e.metrics.RecordDegraded()
	}
	if len(tradingDays) == 0 {
		return nil, nil
	}

	stored, err := e.bars.TradeDatesWithData(assetID, barstore.PeriodNone, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_history: query stored dates: %w", err)
	}
	negatives, err := e.negativeCoverage(assetID, barstore.PeriodNone, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_history: query negative coverage: %w", err)
	}

	todayInMarket, err := calendar.Today(market)
	if err != nil {
		todayInMarket = ""
	}
	marketOpen, _ := calendar.IsMarketOpenNow(market)

	effective := mergeEffective(stored, negatives)
	plan := gapresolver.Resolve(tradingDays, effective, todayInMarket, marketOpen)

	var missingRanges []string
	var lastErr error
	for _, w := range plan {
		if ctx.Err() != nil {
			break
		}
		if w.Hot && allPresent(tradingDays, effective, w.Start, w.End) && !opts.ForceRefresh {
			guardKey := ttlcache.Key(ttlcache.KindHotHistoryGuard, string(market), symbol, todayInMarket)
			fresh, _ := e.ttl.Fresh(guardKey)
			if fresh {
				continue
			}
		}
		fetchFn := func(fctx context.Context) ([]fetcher.Bar, error) {
			return e.fetch.FetchBars(fctx, symbol, string(market), w.Start, w.End, adjustMode)
		}
		if err := e.fetchAndStore(ctx, market, symbol, assetID, barstore.PeriodNone, adjustMode, w, todayInMarket, tradingDays, fetchFn); err != nil {
			missingRanges = append(missingRanges, w.Start+"-"+w.End)
			lastErr = err
			continue
		}
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil, errs.Canceled()
	}

	result, err := e.bars.ReadRange(assetID, barstore.PeriodNone, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_history: read range: %w", err)
	}
	e.metrics.RecordCacheHit(len(result) - countFetchedBars(missingRanges))

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, errs.Timeout(missingRanges)
	}
	if lastErr != nil {
		if len(result) > 0 {
			return result, errs.PartialData(missingRanges, lastErr)
		}
		return nil, errs.Unavailable(lastErr)
	}
	return result, nil
}

// countFetchedBars is a best-effort hit-count adjustment; metrics
// precision is explicitly eventually-consistent per §5, not exact.
func countFetchedBars(missingRanges []string) int {
	return len(missingRanges)
}

// GetIndexSeries is the get_index_series contract (§6.2): an index
// series shares BarStore, GapResolver and CoverageIndex with
// get_history via the `period` column and an empty adjust_mode (§9),
// differing only in which Fetcher method fills a gap.
func (e *Engine) GetIndexSeries(ctx context.Context, indexSymbol, start, end, period string, opts Options) ([]barstore.Bar, error) {
	period, err := normalizePeriod(period)
	if err != nil {
		return nil, err
	}
	start, end = normalizeDate(start), normalizeDate(end)
	if start == "" || end == "" || end < start {
		return nil, errs.InvalidDateRange(start, end)
	}

	const adjustMode = "" // index series carry no adjust mode, per §9.

	market, err := calendar.InferMarket(indexSymbol)
	if err != nil {
		return nil, err
	}
	assetID, err := e.assets.Resolve(indexSymbol)
	if err != nil {
		return nil, err
	}

	fingerprint := fmt.Sprintf("%d:%s:index", assetID, period)
	unlock, dedup := e.lockFingerprint(fingerprint)
	defer unlock()
	if dedup {
		e.metrics.RecordInflightDedup()
	}

	tradingDays, degraded, err := e.tradingDaysWithFallback(market, start, end, opts.AllowFallback)
	if err != nil {
		return nil, err
	}
	if degraded {
		e.metrics.RecordDegraded()
	}
	if len(tradingDays) == 0 {
		return nil, nil
	}

	stored, err := e.bars.TradeDatesWithData(assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_index_series: query stored dates: %w", err)
	}
	negatives, err := e.negativeCoverage(assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_index_series: query negative coverage: %w", err)
	}

	todayInMarket, err := calendar.Today(market)
	if err != nil {
		todayInMarket = ""
	}
	marketOpen, _ := calendar.IsMarketOpenNow(market)

	effective := mergeEffective(stored, negatives)
	plan := gapresolver.Resolve(tradingDays, effective, todayInMarket, marketOpen)

	var missingRanges []string
	var lastErr error
	for _, w := range plan {
		if ctx.Err() != nil {
			break
		}
		if w.Hot && allPresent(tradingDays, effective, w.Start, w.End) && !opts.ForceRefresh {
			guardKey := ttlcache.Key(ttlcache.KindHotHistoryGuard, string(market), indexSymbol, todayInMarket)
			fresh, _ := e.ttl.Fresh(guardKey)
			if fresh {
				continue
			}
		}
		fetchFn := func(fctx context.Context) ([]fetcher.Bar, error) {
			return e.fetch.FetchIndexSeries(fctx, indexSymbol, period, w.Start, w.End)
		}
		if err := e.fetchAndStore(ctx, market, indexSymbol, assetID, period, adjustMode, w, todayInMarket, tradingDays, fetchFn); err != nil {
			missingRanges = append(missingRanges, w.Start+"-"+w.End)
			lastErr = err
			continue
		}
	}

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil, errs.Canceled()
	}

	result, err := e.bars.ReadRange(assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("get_index_series: read range: %w", err)
	}
	e.metrics.RecordCacheHit(len(result) - countFetchedBars(missingRanges))

	if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, errs.Timeout(missingRanges)
	}
	if lastErr != nil {
		if len(result) > 0 {
			return result, errs.PartialData(missingRanges, lastErr)
		}
		return nil, errs.Unavailable(lastErr)
	}
	return result, nil
}

func normalizePeriod(period string) (string, error) {
	period = strings.ToLower(strings.TrimSpace(period))
	if period == "" {
		period = barstore.PeriodDaily
	}
	switch period {
	case barstore.PeriodDaily, barstore.PeriodWeekly, barstore.PeriodMonthly:
		return period, nil
	default:
		return "", errs.InvalidPeriod(period)
	}
}

// fetchAndStore runs the bounded-retry Fetcher call for one sub-window,
// acquiring a backpressure slot, then upserts and records coverage —
// steps 4 through 6 of the get_history algorithm. fetchFn performs the
// actual upstream call (FetchBars for equities, FetchIndexSeries for
// index series) so both callers share backpressure, retry, upsert and
// coverage bookkeeping.
func (e *Engine) fetchAndStore(ctx context.Context, market calendar.Market, symbol string, assetID int64, period, adjustMode string, w gapresolver.Window, todayInMarket string, tradingDays []string, fetchFn func(ctx context.Context) ([]fetcher.Bar, error)) error {
	select {
	case e.maxInFlight <- struct{}{}:
		defer func() { <-e.maxInFlight }()
	default:
		return errs.Overloaded()
	}

	var fetched []fetcher.Bar
	err := e.retryPolicy.Do(ctx, func() error {
		start := time.Now()
		bars, ferr := fetchFn(ctx)
		e.metrics.RecordUpstreamCall(w, time.Since(start), ferr)
		if ferr != nil {
			return ferr
		}
		fetched = bars
		return nil
	})
	if err != nil {
		return err
	}

	converted := make([]barstore.Bar, len(fetched))
	for i, b := range fetched {
		converted[i] = barstore.Bar(b)
	}
	if err := e.bars.Upsert(assetID, period, adjustMode, converted); err != nil {
		return fmt.Errorf("fetchAndStore: upsert: %w", err)
	}
	e.metrics.RecordBarsStored(len(converted))
	if err := e.recordNegativeCoverage(assetID, period, adjustMode, w, tradingDays, converted); err != nil {
		return fmt.Errorf("fetchAndStore: record negative coverage: %w", err)
	}
	if err := e.coverage.Update(assetID, period, adjustMode); err != nil {
		return fmt.Errorf("fetchAndStore: update coverage: %w", err)
	}
	if w.Hot {
		guardKey := ttlcache.Key(ttlcache.KindHotHistoryGuard, string(market), symbol, todayInMarket)
		if err := e.ttl.Put(ttlcache.KindHotHistoryGuard, string(market), guardKey, struct{}{}, 0); err != nil {
			e.log.Warn().Err(err).Msg("failed to set hot-run guard")
		}
	}
	return nil
}

// recordNegativeCoverage tombstones every trading day in w that the
// upstream call did not return a bar for — an explicit "non-existent
// for this asset" signal, not a transient miss.
func (e *Engine) recordNegativeCoverage(assetID int64, period, adjustMode string, w gapresolver.Window, tradingDays []string, got []barstore.Bar) error {
	present := make(map[string]struct{}, len(got))
	for _, b := range got {
		present[b.TradeDate] = struct{}{}
	}
	for _, d := range tradingDays {
		if d < w.Start || d > w.End {
			continue
		}
		if _, ok := present[d]; ok {
			continue
		}
		if err := e.insertNegativeCoverage(assetID, period, adjustMode, d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) insertNegativeCoverage(assetID int64, period, adjustMode, date string) error {
	_, err := e.db.Exec(`
		INSERT OR REPLACE INTO negative_coverage (asset_id, period, adjust_mode, trade_date, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, assetID, period, adjustMode, date, time.Now().Unix())
	return err
}

// negativeCoverage returns the set of dates in [start, end] tombstoned
// as non-existent and still within their TTL (7 days historical, 1
// hour if the date is today), via a single range scan.
func (e *Engine) negativeCoverage(assetID int64, period, adjustMode, start, end string) (map[string]struct{}, error) {
	rows, err := e.db.Query(`
		SELECT trade_date, recorded_at FROM negative_coverage
		WHERE asset_id = ? AND period = ? AND adjust_mode = ? AND trade_date >= ? AND trade_date <= ?
	`, assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := time.Now()
	fresh := make(map[string]struct{})
	for rows.Next() {
		var date string
		var recordedAt int64
		if err := rows.Scan(&date, &recordedAt); err != nil {
			return nil, err
		}
		ttl := negativeCoverageTTLHistorical
		recordedTime := time.Unix(recordedAt, 0)
		if now.Sub(recordedTime) < negativeCoverageTTLToday {
			ttl = negativeCoverageTTLToday
		}
		if now.Sub(recordedTime) < ttl {
			fresh[date] = struct{}{}
		}
	}
	return fresh, rows.Err()
}

// mergeEffective combines the stored-bar set with still-fresh negative
// tombstones so GapResolver treats a recorded non-existent day as
// "covered" rather than refetching it every call.
func mergeEffective(stored, negatives map[string]struct{}) map[string]struct{} {
	effective := make(map[string]struct{}, len(stored)+len(negatives))
	for d := range stored {
		effective[d] = struct{}{}
	}
	for d := range negatives {
		effective[d] = struct{}{}
	}
	return effective
}

func allPresent(tradingDays []string, effective map[string]struct{}, start, end string) bool {
	for _, d := range tradingDays {
		if d < start || d > end {
			continue
		}
		if _, ok := effective[d]; !ok {
			return false
		}
	}
	return true
}

// tradingDaysWithFallback implements the Calendar-unavailable failure
// branch: if allowFallback, every calendar day in [start, end] is
// treated as a trading day and the degraded flag is set; otherwise the
// CalendarUnavailable error from Calendar propagates unchanged.
func (e *Engine) tradingDaysWithFallback(market calendar.Market, start, end string, allowFallback bool) ([]string, bool, error) {
	days, err := e.cal.TradingDays(market, start, end)
	if err == nil {
		return days, false, nil
	}
	var qerr *errs.Error
	if !errors.As(err, &qerr) || qerr.Kind != errs.KindCalendarUnavailable {
		return nil, false, err
	}
	if !allowFallback {
		return nil, false, err
	}
	return enumerateAllDays(start, end), true, nil
}

func enumerateAllDays(start, end string) []string {
	startT, err1 := time.Parse("20060102", start)
	endT, err2 := time.Parse("20060102", end)
	if err1 != nil || err2 != nil {
		return nil
	}
	var days []string
	for cur := startT; !cur.After(endT); cur = cur.AddDate(0, 0, 1) {
		days = append(days, cur.Format("20060102"))
	}
	return days
}

func normalizeAdjustMode(mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "none"
	}
	switch mode {
	case "none", "qfq", "hfq":
		return mode, nil
	default:
		return "", errs.InvalidAdjustMode(mode)
	}
}

func normalizeDate(d string) string {
	return strings.NewReplacer("-", "", "/", "").Replace(strings.TrimSpace(d))
}

func (e *Engine) lockFingerprint(fingerprint string) (unlock func(), dedup bool) {
	v, _ := e.fpLocks.LoadOrStore(fingerprint, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	if !mu.TryLock() {
		dedup = true
		mu.Lock()
	}
	return mu.Unlock, dedup
}
