// Package quantdb is a self-refreshing local cache for market data: it
// exposes a small set of get_* operations that look like a plain data
// API, while internally resolving gaps against Calendar, fetching only
// what is missing through Fetcher, and persisting everything to an
// embedded SQLite database so repeat calls never re-hit the upstream
// provider for data already known to be correct.
//
// Client is the single entry point; construct one with Open and Close
// it on shutdown to release the database and background scheduler.
package quantdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/assetregistry"
	"github.com/aristath/quantdb/internal/barstore"
	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/config"
	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/historical"
	"github.com/aristath/quantdb/internal/realtime"
	"github.com/aristath/quantdb/internal/ttlcache"
	"github.com/aristath/quantdb/internal/wire"
	"github.com/aristath/quantdb/pkg/logger"
)

// Bar is the public alias for one OHLCV row, re-exported so callers
// never need to import an internal package.
type Bar = barstore.Bar

// Quote, AssetSummary, IndexSummary, Asset mirror their internal
// counterparts for the same reason.
type Quote = fetcher.Quote
type AssetSummary = fetcher.AssetSummary
type IndexSummary = fetcher.IndexSummary
type Asset = assetregistry.Asset

// Error is the structured error every operation returns in place of a
// panic or a sentinel string; callers should use errors.As.
type Error = errs.Error

// HistoryOptions customizes get_history / get_index_series.
type HistoryOptions struct {
	ForceRefresh  bool
	AllowFallback bool
}

// CacheStats is the cache_stats() contract.
type CacheStats struct {
	CacheDir      string
	DBSizeBytes   int64
	Initialized   bool
	Status        string
	FallbackMode  bool
	Hits          int64
	Misses        int64
	UpstreamCalls int64
	HitRatio      float64
}

// Client is the wired QuantDB cache: one embedded database, one
// Calendar, one background Scheduler, shared by every operation below.
type Client struct {
	mu  sync.RWMutex
	cfg *config.Config
	log zerolog.Logger
	c   *wire.Container
	rt  *realtime.Engine
}

// Open wires a Client against cacheDir (or QDB_CACHE_DIR / the
// built-in default if cacheDir is empty) and starts its background
// scheduler. Callers must Close the returned Client.
func Open(cacheDir string) (*Client, error) {
	cfg, err := config.Load(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("quantdb: load config: %w", err)
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel})
	logger.SetGlobalLogger(log)

	container, err := wire.Wire(context.Background(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("quantdb: wire container: %w", err)
	}

	return &Client{
		cfg: cfg,
		log: log,
		c:   container,
		rt:  realtime.New(container.Fetch, container.TTL, log),
	}, nil
}

// Close releases the database and stops the background scheduler.
func (cl *Client) Close() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.c.Close()
}

// GetHistory is the get_history contract. Exactly one of (start, end)
// and days must be given; days expands to the last `days` trading
// days in symbol's market, ending today.
func (cl *Client) GetHistory(ctx context.Context, symbol, start, end string, days int, adjust string, opts HistoryOptions) ([]Bar, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	start, end, err := cl.resolveRange(symbol, start, end, days)
	if err != nil {
		return nil, err
	}
	return cl.c.Historical.GetHistory(ctx, symbol, start, end, adjust, historical.Options{
		ForceRefresh: opts.ForceRefresh, AllowFallback: opts.AllowFallback,
	})
}

// GetHistoryBatch is the get_history_batch contract: every symbol is
// resolved independently so one symbol's failure does not affect
// another's result.
func (cl *Client) GetHistoryBatch(ctx context.Context, symbols []string, start, end string, days int, adjust string, opts HistoryOptions) map[string]any {
	out := make(map[string]any, len(symbols))
	for _, sym := range symbols {
		bars, err := cl.GetHistory(ctx, sym, start, end, days, adjust, opts)
		if err != nil {
			out[sym] = err
			continue
		}
		out[sym] = bars
	}
	return out
}

// resolveRange implements §6.2's "exactly one of (start+end) or days"
// rule, expanding days into [today - N trading days, today] for
// symbol's inferred market.
func (cl *Client) resolveRange(symbol, start, end string, days int) (string, string, error) {
	haveRange := start != "" && end != ""
	haveDays := days > 0
	if haveRange == haveDays {
		return "", "", errs.InvalidDateRange(start, end)
	}
	if haveRange {
		return start, end, nil
	}

	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return "", "", err
	}
	today, err := calendar.Today(market)
	if err != nil {
		return "", "", err
	}
	// Look back far enough (days, generously padded for weekends and
	// holidays) to guarantee at least `days` trading days exist in range.
	lookback := time.Duration(days*3+15) * 24 * time.Hour
	todayT, err := time.Parse("20060102", today)
	if err != nil {
		return "", "", errs.InvalidDateRange(today, today)
	}
	windowStart := todayT.Add(-lookback).Format("20060102")

	tradingDays, err := cl.c.Calendar.TradingDays(market, windowStart, today)
	if err != nil {
		return "", "", err
	}
	if len(tradingDays) == 0 {
		return today, today, nil
	}
	if len(tradingDays) > days {
		tradingDays = tradingDays[len(tradingDays)-days:]
	}
	return tradingDays[0], tradingDays[len(tradingDays)-1], nil
}

// GetQuote is the get_quote contract.
func (cl *Client) GetQuote(ctx context.Context, symbol string, forceRefresh bool) (*Quote, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.rt.GetQuote(ctx, symbol, forceRefresh)
}

// GetQuoteBatch is the get_quote_batch contract.
func (cl *Client) GetQuoteBatch(ctx context.Context, symbols []string, forceRefresh bool) map[string]any {
	out := make(map[string]any, len(symbols))
	for _, sym := range symbols {
		quote, err := cl.GetQuote(ctx, sym, forceRefresh)
		if err != nil {
			out[sym] = err
			continue
		}
		out[sym] = quote
	}
	return out
}

// GetStockList is the get_stock_list contract.
func (cl *Client) GetStockList(ctx context.Context, market string, forceRefresh bool) ([]AssetSummary, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.rt.GetStockList(ctx, market, forceRefresh)
}

// GetAssetInfo is the get_asset_info contract, delegating to
// AssetRegistry's descriptive-refresh logic.
func (cl *Client) GetAssetInfo(ctx context.Context, symbol string) (*Asset, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.c.Assets.Describe(ctx, symbol, false)
}

// GetIndexSeries is the get_index_series contract.
func (cl *Client) GetIndexSeries(ctx context.Context, index, start, end string, days int, period string, forceRefresh bool) ([]Bar, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	start, end, err := cl.resolveRange(index, start, end, days)
	if err != nil {
		return nil, err
	}
	return cl.c.Historical.GetIndexSeries(ctx, index, start, end, period, historical.Options{ForceRefresh: forceRefresh, AllowFallback: true})
}

// GetIndexQuote is the get_index_quote contract.
func (cl *Client) GetIndexQuote(ctx context.Context, index string, forceRefresh bool) (*Quote, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.rt.GetIndexQuote(ctx, index, forceRefresh)
}

// GetIndexList is the get_index_list contract.
func (cl *Client) GetIndexList(ctx context.Context, category string, forceRefresh bool) ([]IndexSummary, error) {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.rt.GetIndexList(ctx, category, forceRefresh)
}

// CacheStats is the cache_stats() contract.
func (cl *Client) CacheStats() CacheStats {
	cl.mu.RLock()
	defer cl.mu.RUnlock()

	var size int64
	if stats, err := cl.c.DB.GetStats(); err == nil {
		size = stats.SizeBytes
	}
	snap := cl.c.Metrics.Snapshot()
	status := "ok"
	if cl.c.Calendar.FallbackMode() {
		status = "degraded"
	}
	return CacheStats{
		CacheDir:      cl.cfg.CacheDir,
		DBSizeBytes:   size,
		Initialized:   true,
		Status:        status,
		FallbackMode:  cl.c.Calendar.FallbackMode(),
		Hits:          snap.Hits,
		Misses:        snap.Misses,
		UpstreamCalls: snap.UpstreamCalls,
		HitRatio:      snap.HitRatio(),
	}
}

// ClearCache is the clear_cache(symbol?) contract. If symbol is empty,
// every symbol's bars/coverage/negative-coverage/TTL rows are removed;
// CalendarSnapshot is never touched (§9's Open Question resolution).
func (cl *Client) ClearCache(symbol string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	db := cl.c.DB.Conn()
	if symbol == "" {
		for _, stmt := range []string{
			`DELETE FROM bars`,
			`DELETE FROM coverage`,
			`DELETE FROM negative_coverage`,
			`DELETE FROM ttl_entries`,
		} {
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("quantdb: clear_cache: %w", err)
			}
		}
		return nil
	}

	assetID, err := cl.c.Assets.Resolve(symbol)
	if err != nil {
		return err
	}
	for _, stmt := range []string{
		`DELETE FROM bars WHERE asset_id = ?`,
		`DELETE FROM coverage WHERE asset_id = ?`,
		`DELETE FROM negative_coverage WHERE asset_id = ?`,
	} {
		if _, err := db.Exec(stmt, assetID); err != nil {
			return fmt.Errorf("quantdb: clear_cache(%s): %w", symbol, err)
		}
	}

	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return err
	}
	// Only the kinds whose key embeds the symbol (quote, financial
	// summary, hot-history guard) can hold rows for it; stock_list and
	// index_list are keyed by market/category, not symbol.
	for _, kind := range []ttlcache.Kind{ttlcache.KindQuote, ttlcache.KindFinancialSummary, ttlcache.KindHotHistoryGuard} {
		prefix := ttlcache.Key(kind, string(market), symbol)
		if err := cl.c.TTL.InvalidatePrefix(prefix); err != nil {
			return fmt.Errorf("quantdb: clear_cache(%s): invalidate ttl: %w", symbol, err)
		}
	}
	return nil
}

// SetCacheDir is the set_cache_dir(path) contract: it re-wires the
// Client against a new cache directory, closing the previous one.
// Background jobs and any in-flight requests against the old container
// finish or are abandoned; callers should avoid calling this
// concurrently with other operations.
func (cl *Client) SetCacheDir(path string) error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("quantdb: set_cache_dir: load config: %w", err)
	}
	container, err := wire.Wire(context.Background(), cfg, cl.log)
	if err != nil {
		return fmt.Errorf("quantdb: set_cache_dir: wire container: %w", err)
	}

	if err := cl.c.Close(); err != nil {
		cl.log.Warn().Err(err).Msg("failed to close previous cache directory cleanly")
	}
	cl.cfg = cfg
	cl.c = container
	cl.rt = realtime.New(container.Fetch, container.TTL, cl.log)
	return nil
}

// SetLogLevel is the set_log_level(level) contract.
func (cl *Client) SetLogLevel(level string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.log = logger.New(logger.Config{Level: level})
	logger.SetGlobalLogger(cl.log)
}
