// Package calendar is the canonical source of truth for whether a date
// is a trading day in a given market. Trading-day sets are computed
// once per year (weekend exclusion plus the market's holiday rules),
// cached in memory, and persisted to a single versioned snapshot file
// so a process restart does not need to recompute years of history.
package calendar

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/errs"
)

const (
	dateLayout   = "20060102"
	historyBack  = 5 * 365 * 24 * time.Hour
	horizonAhead = 3 * 365 * 24 * time.Hour
)

// Calendar holds the in-memory trading-day sets for every recognized
// market and manages their persistence and refresh lifecycle.
type Calendar struct {
	mu           sync.RWMutex
	log          zerolog.Logger
	snapshotPath string

	tradingDays map[Market]map[string]struct{}
	lastUpdate  map[Market]time.Time
	generatedAt time.Time

	fallbackMode bool // set when IsTradingDay answers from the weekday fallback; cleared by Refresh
}

// New constructs a Calendar backed by a snapshot file under cacheDir.
// It attempts to load an existing snapshot; callers should follow with
// Refresh if NeedsRefresh reports true for the returned Calendar.
func New(cacheDir string, log zerolog.Logger) *Calendar {
	c := &Calendar{
		log:          log.With().Str("component", "calendar").Logger(),
		snapshotPath: filepath.Join(cacheDir, "calendar_snapshot.msgpack"),
		tradingDays:  make(map[Market]map[string]struct{}),
		lastUpdate:   make(map[Market]time.Time),
	}
	if snap, err := loadSnapshot(c.snapshotPath); err == nil {
		c.adopt(snap)
	} else {
		c.log.Debug().Err(err).Msg("no existing calendar snapshot, starting empty")
	}
	return c
}

func (c *Calendar) adopt(snap *snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generatedAt = snap.GeneratedAt
	for market, md := range snap.Markets {
		set := make(map[string]struct{}, len(md.Days))
		for _, d := range md.Days {
			set[d] = struct{}{}
		}
		c.tradingDays[market] = set
		c.lastUpdate[market] = md.LastUpdate
	}
}

// IsTradingDay reports whether date (YYYYMMDD) is a trading day for
// market. If the market's set has not been built and allowFallback is
// set, it falls back to "every weekday is a trading day"; otherwise it
// fails with CalendarUnavailable.
func (c *Calendar) IsTradingDay(market Market, date string, allowFallback bool) (bool, error) {
	if _, ok := marketConfigs[market]; !ok {
		return false, errs.UnknownMarket(string(market))
	}
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return false, errs.InvalidDateRange(date, date)
	}

	c.mu.RLock()
	set, built := c.tradingDays[market]
	c.mu.RUnlock()

	if built {
		_, ok := set[date]
		return ok, nil
	}

	if !allowFallback {
		return false, errs.CalendarUnavailable(fmt.Errorf("no snapshot for market %s", market))
	}
	c.mu.Lock()
	c.fallbackMode = true
	c.mu.Unlock()
	return t.Weekday() != time.Saturday && t.Weekday() != time.Sunday, nil
}

// TradingDays returns the ordered, inclusive sequence of trading days
// for market in [start, end] (YYYYMMDD). Empty if no trading day lies
// in the interval.
func (c *Calendar) TradingDays(market Market, start, end string) ([]string, error) {
	if _, ok := marketConfigs[market]; !ok {
		return nil, errs.UnknownMarket(string(market))
	}
	startT, err := time.Parse(dateLayout, start)
	if err != nil {
		return nil, errs.InvalidDateRange(start, end)
	}
	endT, err := time.Parse(dateLayout, end)
	if err != nil {
		return nil, errs.InvalidDateRange(start, end)
	}
	if endT.Before(startT) {
		return nil, errs.InvalidDateRange(start, end)
	}

	c.mu.RLock()
	set, built := c.tradingDays[market]
	c.mu.RUnlock()
	if !built {
		return nil, errs.CalendarUnavailable(fmt.Errorf("no snapshot for market %s", market))
	}

	var days []string
	for _, d := range setKeys(set) {
		if d >= start && d <= end {
			days = append(days, d)
		}
	}
	sort.Strings(days)
	return days, nil
}

func setKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return keys
}

// SnapshotPath returns the path of the msgpack snapshot file this
// Calendar persists to, for the backup job to include alongside the
// bar database.
func (c *Calendar) SnapshotPath() string {
	return c.snapshotPath
}

// FallbackMode reports whether IsTradingDay has had to operate without a
// valid snapshot since the last successful Refresh, surfaced through
// cache_stats().
func (c *Calendar) FallbackMode() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fallbackMode
}

// NeedsRefresh reports whether the in-memory snapshot should be
// rebuilt per §4.1's rebuild triggers.
func (c *Calendar) NeedsRefresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.tradingDays) < len(marketConfigs) {
		return true
	}
	if c.generatedAt.IsZero() {
		return true
	}
	snap := &snapshot{GeneratedAt: c.generatedAt, YearTag: c.generatedAt.Year(), FormatVersion: snapshotFormatVersion, CodeVersion: snapshotCodeVersion}
	return snap.stale(now)
}

// Refresh rebuilds the trading-day set for market (or every recognized
// market if market is empty) covering [now-5y, now+3y], then persists
// the result to the snapshot file. Rebuild is idempotent: running it
// twice in a row produces the same set.
func (c *Calendar) Refresh(market Market) error {
	now := time.Now()
	markets := []Market{market}
	if market == "" {
		markets = nil
		for m := range marketConfigs {
			markets = append(markets, m)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nowKey := now.Format(dateLayout)
	rebuilt := make(map[Market]map[string]struct{}, len(markets))
	for _, m := range markets {
		cfg, ok := marketConfigs[m]
		if !ok {
			return errs.UnknownMarket(string(m))
		}
		rebuilt[m] = buildTradingDaySet(cfg, now.Add(-historyBack), now.Add(horizonAhead))
	}

	// Invariant 6: a refresh must never silently drop a historical
	// (already-elapsed) trading day that a prior snapshot reported —
	// that would invalidate bars already persisted under the old
	// assumption. Surface CalendarInconsistency instead of adopting.
	for _, m := range markets {
		prior, built := c.tradingDays[m]
		if !built {
			continue
		}
		for d := range prior {
			if d > nowKey {
				continue
			}
			if _, stillPresent := rebuilt[m][d]; !stillPresent {
				return errs.CalendarInconsistency(fmt.Sprintf(
					"refresh for market %s would remove historical trading day %s present in prior snapshot", m, d))
			}
		}
	}

	for _, m := range markets {
		c.tradingDays[m] = rebuilt[m]
		c.lastUpdate[m] = now
	}
	c.generatedAt = now
	c.fallbackMode = false

	snap := &snapshot{
		FormatVersion: snapshotFormatVersion,
		CodeVersion:   snapshotCodeVersion,
		GeneratedAt:   now,
		YearTag:       now.Year(),
		Markets:       make(map[Market]marketDays, len(c.tradingDays)),
	}
	for m, set := range c.tradingDays {
		snap.Markets[m] = marketDays{Days: setKeys(set), LastUpdate: c.lastUpdate[m]}
	}
	if err := saveSnapshot(c.snapshotPath, snap); err != nil {
		c.log.Warn().Err(err).Msg("failed to persist calendar snapshot")
		return errs.CalendarUnavailable(err)
	}
	c.log.Info().Strs("markets", marketStrings(markets)).Msg("calendar refreshed")
	return nil
}

func marketStrings(markets []Market) []string {
	out := make([]string, len(markets))
	for i, m := range markets {
		out[i] = string(m)
	}
	return out
}

// buildTradingDaySet enumerates every weekday in [from, to] for cfg's
// timezone and subtracts the market's holiday dates.
func buildTradingDaySet(cfg marketConfig, from, to time.Time) map[string]struct{} {
	set := make(map[string]struct{})
	holidaySet := make(map[string]struct{})
	for year := from.Year(); year <= to.Year(); year++ {
		for _, h := range holidaysForYear(cfg, year) {
			holidaySet[h.Format(dateLayout)] = struct{}{}
		}
	}

	cursor := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, cfg.Timezone)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, cfg.Timezone)
	for !cursor.After(end) {
		if cursor.Weekday() != time.Saturday && cursor.Weekday() != time.Sunday {
			key := cursor.Format(dateLayout)
			if _, holiday := holidaySet[key]; !holiday {
				set[key] = struct{}{}
			}
		}
		cursor = cursor.AddDate(0, 0, 1)
	}
	return set
}

// InferMarket implements §4.1's symbol-shape market inference rule.
func InferMarket(symbol string) (Market, error) {
	return inferMarket(symbol)
}

// Today returns today's date, in market's timezone, as a YYYYMMDD string.
func Today(market Market) (string, error) {
	cfg, ok := marketConfigs[market]
	if !ok {
		return "", errs.UnknownMarket(string(market))
	}
	return time.Now().In(cfg.Timezone).Format(dateLayout), nil
}

// IsMarketOpenNow reports whether market is inside its regular trading
// session right now. Used by the hot-run detection in §4.4/§4.6; QuantDB
// does not model lunch breaks or early closes since it only needs a
// same-day/not-same-day signal, not an order-routing gate.
func IsMarketOpenNow(market Market) (bool, error) {
	cfg, ok := marketConfigs[market]
	if !ok {
		return false, errs.UnknownMarket(string(market))
	}
	now := time.Now().In(cfg.Timezone)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return false, nil
	}
	open := time.Date(now.Year(), now.Month(), now.Day(), 9, 30, 0, 0, cfg.Timezone)
	closeTime := time.Date(now.Year(), now.Month(), now.Day(), 15, 0, 0, 0, cfg.Timezone)
	return !now.Before(open) && now.Before(closeTime), nil
}
