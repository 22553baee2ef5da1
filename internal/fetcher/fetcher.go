// Package fetcher abstracts the upstream market-data provider for one
// sub-window at a time. Fetcher is the only component permitted to
// perform network I/O; akshare/ and fake/ are its two implementations.
package fetcher

import "context"

// Bar is the upstream-normalized OHLCV row returned by fetch calls,
// before it is persisted through barstore.Bar.
type Bar struct {
	TradeDate     string
	Open          *float64
	High          *float64
	Low           *float64
	Close         *float64
	Volume        *float64
	Turnover      *float64
	Amplitude     *float64
	PctChange     *float64
	Change        *float64
	TurnoverRate  *float64
	AdjustedClose *float64
}

// AssetInfo is the partial descriptive record fetch_asset_info returns.
type AssetInfo struct {
	Symbol      string
	Name        string
	Exchange    string
	Currency    string
	AssetType   string
	Industry    string
	ListingDate string
	PERatio     *float64
	PBRatio     *float64
	ROE         *float64
}

// Quote is a single-symbol realtime snapshot.
type Quote struct {
	Symbol    string
	Price     float64
	Change    float64
	PctChange float64
	Volume    float64
	Timestamp string
}

// AssetSummary is one row of a stock-list listing.
type AssetSummary struct {
	Symbol string
	Name   string
	Market string
}

// IndexSummary is one row of an index-list listing (§6.2 get_index_list).
type IndexSummary struct {
	Symbol   string
	Name     string
	Category string
	Market   string
}

// FinancialSummary is the quarterly-ish descriptive financial snapshot
// cached under the TTLCache financial_summary kind (§4.7).
type FinancialSummary struct {
	Symbol         string
	FiscalPeriod   string
	Revenue        *float64
	NetIncome      *float64
	TotalAssets    *float64
	TotalLiability *float64
	EPS            *float64
}

// Period for fetch_index_series.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Fetcher is the upstream abstraction every component calls through;
// never the other way around.
type Fetcher interface {
	FetchBars(ctx context.Context, symbol, market, start, end, adjustMode string) ([]Bar, error)
	FetchAssetInfo(ctx context.Context, symbol, market string) (*AssetInfo, error)
	FetchQuote(ctx context.Context, symbol, market string) (*Quote, error)
	FetchStockList(ctx context.Context, market string) ([]AssetSummary, error)
	FetchIndexSeries(ctx context.Context, indexSymbol, period, start, end string) ([]Bar, error)
	FetchIndexList(ctx context.Context, category string) ([]IndexSummary, error)
	FetchFinancialSummary(ctx context.Context, symbol, market string) (*FinancialSummary, error)
}
