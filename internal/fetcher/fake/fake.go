// Package fake is a deterministic, in-memory fetcher.Fetcher for tests,
// configurable per-call to return specific bars, an UpstreamError, or
// induced latency — the "test/fake implementation" §4.5 requires
// alongside the akshare one.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
)

// Fetcher is the fake implementation. Zero value is usable; configure
// behavior with the setters before handing it to a HistoricalEngine.
type Fetcher struct {
	mu sync.Mutex

	bars    map[string][]fetcher.Bar // keyed by symbol+start+end+adjustMode
	err     error                    // returned by every FetchBars call if set
	latency time.Duration
	calls   []FetchBarsCall
}

// FetchBarsCall records one FetchBars invocation, for assertions on
// "exactly one upstream call for this sub-window" scenarios.
type FetchBarsCall struct {
	Symbol, Market, Start, End, AdjustMode string
}

func New() *Fetcher {
	return &Fetcher{bars: make(map[string][]fetcher.Bar)}
}

// SetBars registers the bars FetchBars returns for the given call shape.
func (f *Fetcher) SetBars(symbol, start, end, adjustMode string, bars []fetcher.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bars == nil {
		f.bars = make(map[string][]fetcher.Bar)
	}
	f.bars[key(symbol, start, end, adjustMode)] = bars
}

// SetError makes every subsequent FetchBars call fail with err.
func (f *Fetcher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetLatency induces an artificial delay before each FetchBars returns,
// for exercising cancellation and timeout paths.
func (f *Fetcher) SetLatency(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latency = d
}

// Calls returns every FetchBars invocation observed so far.
func (f *Fetcher) Calls() []FetchBarsCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FetchBarsCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func key(symbol, start, end, adjustMode string) string {
	return symbol + "|" + start + "|" + end + "|" + adjustMode
}

// FetchBars implements fetcher.Fetcher.
func (f *Fetcher) FetchBars(ctx context.Context, symbol, market, start, end, adjustMode string) ([]fetcher.Bar, error) {
	f.mu.Lock()
	latency := f.latency
	f.calls = append(f.calls, FetchBarsCall{Symbol: symbol, Market: market, Start: start, End: end, AdjustMode: adjustMode})
	if latency > 0 {
		f.mu.Unlock()
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, errs.Canceled()
		}
		f.mu.Lock()
	}
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return append([]fetcher.Bar(nil), f.bars[key(symbol, start, end, adjustMode)]...), nil
}

// FetchAssetInfo implements fetcher.Fetcher with a minimal default record.
func (f *Fetcher) FetchAssetInfo(ctx context.Context, symbol, market string) (*fetcher.AssetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.AssetInfo{Symbol: symbol, Name: symbol, AssetType: "equity"}, nil
}

// FetchQuote implements fetcher.Fetcher with a zeroed quote.
func (f *Fetcher) FetchQuote(ctx context.Context, symbol, market string) (*fetcher.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Quote{Symbol: symbol}, nil
}

// FetchStockList implements fetcher.Fetcher with an empty list.
func (f *Fetcher) FetchStockList(ctx context.Context, market string) ([]fetcher.AssetSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

// FetchIndexSeries implements fetcher.Fetcher, delegating to the same
// bar registry as FetchBars with an empty market and period in the
// adjust-mode slot of the key.
func (f *Fetcher) FetchIndexSeries(ctx context.Context, indexSymbol, period, start, end string) ([]fetcher.Bar, error) {
	return f.FetchBars(ctx, indexSymbol, "", start, end, period)
}

// FetchIndexList implements fetcher.Fetcher with an empty list.
func (f *Fetcher) FetchIndexList(ctx context.Context, category string) ([]fetcher.IndexSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

// FetchFinancialSummary implements fetcher.Fetcher with a minimal default record.
func (f *Fetcher) FetchFinancialSummary(ctx context.Context, symbol, market string) (*fetcher.FinancialSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.FinancialSummary{Symbol: symbol}, nil
}
