// Package realtime implements the facade operations that need only the
// TTLCache and a single Fetcher round trip — get_quote, get_stock_list,
// get_index_list and the financial summary — as opposed to
// HistoricalEngine's gap-resolved,
// multi-day orchestration. Each operation is "serve the cached payload
// if fresh, else fetch once and cache the result", the same
// check-cache-then-fetch-then-store shape HistoricalEngine uses for
// bars, simplified because there is no partial-range concept here.
package realtime

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/ttlcache"
)

// Engine serves get_quote, get_stock_list, get_index_list and
// financial-summary lookups from TTLCache, falling back to Fetcher on
// a miss or an explicit force_refresh.
type Engine struct {
	fetch fetcher.Fetcher
	ttl   *ttlcache.Cache
	log   zerolog.Logger
}

func New(fetch fetcher.Fetcher, ttl *ttlcache.Cache, log zerolog.Logger) *Engine {
	return &Engine{fetch: fetch, ttl: ttl, log: log.With().Str("component", "realtime").Logger()}
}

// GetQuote is the get_quote contract.
func (e *Engine) GetQuote(ctx context.Context, symbol string, forceRefresh bool) (*fetcher.Quote, error) {
	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return nil, err
	}
	key := ttlcache.Key(ttlcache.KindQuote, string(market), symbol)

	var quote fetcher.Quote
	if !forceRefresh {
		if hit, err := e.ttl.Get(key, &quote); err != nil {
			return nil, err
		} else if hit {
			return &quote, nil
		}
	}

	fetched, err := e.fetch.FetchQuote(ctx, symbol, string(market))
	if err != nil {
		return nil, err
	}
	if err := e.ttl.Put(ttlcache.KindQuote, string(market), key, fetched, 0); err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache quote")
	}
	return fetched, nil
}

// GetStockList is the get_stock_list contract. market is optional;
// empty means every recognized market.
func (e *Engine) GetStockList(ctx context.Context, market string, forceRefresh bool) ([]fetcher.AssetSummary, error) {
	key := ttlcache.Key(ttlcache.KindStockList, market, "all")

	var list []fetcher.AssetSummary
	if !forceRefresh {
		if hit, err := e.ttl.Get(key, &list); err != nil {
			return nil, err
		} else if hit {
			return list, nil
		}
	}

	fetched, err := e.fetch.FetchStockList(ctx, market)
	if err != nil {
		return nil, err
	}
	if err := e.ttl.Put(ttlcache.KindStockList, market, key, fetched, 0); err != nil {
		e.log.Warn().Err(err).Str("market", market).Msg("failed to cache stock list")
	}
	return fetched, nil
}

// GetIndexList is the get_index_list contract. category is optional.
func (e *Engine) GetIndexList(ctx context.Context, category string, forceRefresh bool) ([]fetcher.IndexSummary, error) {
	key := ttlcache.Key(ttlcache.KindIndexList, "", category)

	var list []fetcher.IndexSummary
	if !forceRefresh {
		if hit, err := e.ttl.Get(key, &list); err != nil {
			return nil, err
		} else if hit {
			return list, nil
		}
	}

	fetched, err := e.fetch.FetchIndexList(ctx, category)
	if err != nil {
		return nil, err
	}
	if err := e.ttl.Put(ttlcache.KindIndexList, "", key, fetched, 0); err != nil {
		e.log.Warn().Err(err).Str("category", category).Msg("failed to cache index list")
	}
	return fetched, nil
}

// GetIndexQuote is the get_index_quote contract, sharing GetQuote's
// cache-then-fetch shape with an index symbol in place of an equity.
func (e *Engine) GetIndexQuote(ctx context.Context, indexSymbol string, forceRefresh bool) (*fetcher.Quote, error) {
	return e.GetQuote(ctx, indexSymbol, forceRefresh)
}

// GetFinancialSummary serves the descriptive financial snapshot for a
// symbol (§4.7's financial_summary kind).
func (e *Engine) GetFinancialSummary(ctx context.Context, symbol, market string, forceRefresh bool) (*fetcher.FinancialSummary, error) {
	if _, ok := calendarKnown(market); !ok {
		return nil, errs.UnknownMarket(market)
	}
	key := ttlcache.Key(ttlcache.KindFinancialSummary, market, symbol)

	var summary fetcher.FinancialSummary
	if !forceRefresh {
		if hit, err := e.ttl.Get(key, &summary); err != nil {
			return nil, err
		} else if hit {
			return &summary, nil
		}
	}

	fetched, err := e.fetch.FetchFinancialSummary(ctx, symbol, market)
	if err != nil {
		return nil, err
	}
	if err := e.ttl.Put(ttlcache.KindFinancialSummary, market, key, fetched, 0); err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache financial summary")
	}
	return fetched, nil
}

func calendarKnown(market string) (calendar.Market, bool) {
	m := calendar.Market(market)
	_, err := calendar.Today(m)
	return m, err == nil
}
