// Package akshare implements fetcher.Fetcher against an AKShare HTTP
// gateway. Upstream calls are serialized through a single worker
// goroutine enforcing a minimum delay between requests, the same
// rate-limited request-queue pattern used elsewhere in the ecosystem
// for broker/market-data clients. The queue depth is the backpressure
// boundary: a full queue returns Overloaded rather than blocking
// indefinitely.
package akshare

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
)

const (
	rateLimitDelay   = 200 * time.Millisecond
	requestQueueSize = 256
)

type requestJob struct {
	path     string
	query    url.Values
	resultCh chan requestResult
}

type requestResult struct {
	body []byte
	err  error
}

// Client is the akshare-backed Fetcher.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// New constructs a Client against baseURL (the AKShare HTTP gateway or
// a self-hosted proxy) and starts its rate-limiting worker.
func New(baseURL string, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("component", "fetcher-akshare").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	go c.worker()
	return c
}

// Close gracefully drains the queue and stops the worker.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		close(c.requestQueue)
		<-c.workerDone
	})
}

func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequestTime time.Time
	firstRequest := true

	process := func(job requestJob) {
		if !firstRequest {
			if elapsed := time.Since(lastRequestTime); elapsed < rateLimitDelay {
				time.Sleep(rateLimitDelay - elapsed)
			}
		}
		firstRequest = false

		body, err := c.doRequest(job.path, job.query)
		lastRequestTime = time.Now()
		job.resultCh <- requestResult{body: body, err: err}
	}

	for {
		select {
		case <-c.stopChan:
			for {
				select {
				case job, ok := <-c.requestQueue:
					if !ok {
						return
					}
					process(job)
				default:
					return
				}
			}
		case job, ok := <-c.requestQueue:
			if !ok {
				return
			}
			process(job)
		}
	}
}

// enqueue submits a request and blocks for its result, respecting ctx
// cancellation while waiting both to be scheduled and for the response.
func (c *Client) enqueue(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resultCh := make(chan requestResult, 1)
	job := requestJob{path: path, query: query, resultCh: resultCh}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return nil, errs.Unavailable(fmt.Errorf("fetcher client is closed"))
	case <-ctx.Done():
		return nil, errs.Canceled()
	default:
		return nil, errs.Overloaded()
	}

	select {
	case res := <-resultCh:
		return res.body, res.err
	case <-ctx.Done():
		return nil, errs.Canceled()
	}
}

func (c *Client) doRequest(path string, query url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, errs.UpstreamError("request_build_failed", false, err)
	}
	req.Header.Set("User-Agent", "quantdb/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.UpstreamError("transport_error", true, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.UpstreamError("read_body_failed", true, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("upstream returned retryable status")
		return nil, errs.UpstreamError(fmt.Sprintf("http_%d", resp.StatusCode), true, fmt.Errorf("%s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		c.log.Error().Int("status", resp.StatusCode).Str("path", path).Msg("upstream returned non-retryable status")
		return nil, errs.UpstreamError(fmt.Sprintf("http_%d", resp.StatusCode), false, fmt.Errorf("%s", resp.Status))
	}
	return body, nil
}

// wireBar is the heterogeneous upstream row shape before normalization
// into fetcher.Bar; the tagged variant never escapes this package.
type wireBar struct {
	Date          string  `json:"date"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        float64 `json:"volume"`
	Turnover      float64 `json:"turnover"`
	Amplitude     float64 `json:"amplitude"`
	PctChange     float64 `json:"pct_change"`
	Change        float64 `json:"change"`
	TurnoverRate  float64 `json:"turnover_rate"`
	AdjustedClose float64 `json:"adjusted_close"`
}

func normalizeDate(raw string) string {
	clean := strings.ReplaceAll(raw, "-", "")
	clean = strings.ReplaceAll(clean, "/", "")
	return clean
}

func (w wireBar) toBar() fetcher.Bar {
	return fetcher.Bar{
		TradeDate:     normalizeDate(w.Date),
		Open:          ptr(w.Open),
		High:          ptr(w.High),
		Low:           ptr(w.Low),
		Close:         ptr(w.Close),
		Volume:        ptr(w.Volume),
		Turnover:      ptr(w.Turnover),
		Amplitude:     ptr(w.Amplitude),
		PctChange:     ptr(w.PctChange),
		Change:        ptr(w.Change),
		TurnoverRate:  ptr(w.TurnoverRate),
		AdjustedClose: ptr(w.AdjustedClose),
	}
}

func ptr(v float64) *float64 { return &v }

// FetchBars implements fetcher.Fetcher.
func (c *Client) FetchBars(ctx context.Context, symbol, market, start, end, adjustMode string) ([]fetcher.Bar, error) {
	q := url.Values{
		"symbol": {symbol}, "market": {market}, "start": {start}, "end": {end}, "adjust": {adjustMode},
	}
	body, err := c.enqueue(ctx, "/api/history", q)
	if err != nil {
		return nil, err
	}

	var wire []wireBar
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	bars := make([]fetcher.Bar, len(wire))
	for i, w := range wire {
		bars[i] = w.toBar()
	}
	return bars, nil
}

// FetchAssetInfo implements fetcher.Fetcher.
func (c *Client) FetchAssetInfo(ctx context.Context, symbol, market string) (*fetcher.AssetInfo, error) {
	q := url.Values{"symbol": {symbol}, "market": {market}}
	body, err := c.enqueue(ctx, "/api/asset_info", q)
	if err != nil {
		return nil, err
	}
	var info fetcher.AssetInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	return &info, nil
}

// FetchQuote implements fetcher.Fetcher.
func (c *Client) FetchQuote(ctx context.Context, symbol, market string) (*fetcher.Quote, error) {
	q := url.Values{"symbol": {symbol}, "market": {market}}
	body, err := c.enqueue(ctx, "/api/quote", q)
	if err != nil {
		return nil, err
	}
	var quote fetcher.Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	return &quote, nil
}

// FetchStockList implements fetcher.Fetcher.
func (c *Client) FetchStockList(ctx context.Context, market string) ([]fetcher.AssetSummary, error) {
	q := url.Values{}
	if market != "" {
		q.Set("market", market)
	}
	body, err := c.enqueue(ctx, "/api/stock_list", q)
	if err != nil {
		return nil, err
	}
	var list []fetcher.AssetSummary
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	return list, nil
}

// FetchIndexSeries implements fetcher.Fetcher.
func (c *Client) FetchIndexSeries(ctx context.Context, indexSymbol, period, start, end string) ([]fetcher.Bar, error) {
	q := url.Values{"symbol": {indexSymbol}, "period": {period}, "start": {start}, "end": {end}}
	body, err := c.enqueue(ctx, "/api/index_series", q)
	if err != nil {
		return nil, err
	}
	var wire []wireBar
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	bars := make([]fetcher.Bar, len(wire))
	for i, w := range wire {
		bars[i] = w.toBar()
	}
	return bars, nil
}

// FetchIndexList implements fetcher.Fetcher.
func (c *Client) FetchIndexList(ctx context.Context, category string) ([]fetcher.IndexSummary, error) {
	q := url.Values{}
	if category != "" {
		q.Set("category", category)
	}
	body, err := c.enqueue(ctx, "/api/index_list", q)
	if err != nil {
		return nil, err
	}
	var list []fetcher.IndexSummary
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	return list, nil
}

// FetchFinancialSummary implements fetcher.Fetcher.
func (c *Client) FetchFinancialSummary(ctx context.Context, symbol, market string) (*fetcher.FinancialSummary, error) {
	q := url.Values{"symbol": {symbol}, "market": {market}}
	body, err := c.enqueue(ctx, "/api/financial_summary", q)
	if err != nil {
		return nil, err
	}
	var summary fetcher.FinancialSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, errs.UpstreamError("malformed_response", false, err)
	}
	return &summary, nil
}
