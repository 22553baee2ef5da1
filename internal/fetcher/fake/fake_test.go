package fake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
)

func TestFetchBars_ReturnsConfiguredBars(t *testing.T) {
	f := New()
	bars := []fetcher.Bar{{TradeDate: "20240102"}}
	f.SetBars("600000", "20240102", "20240103", "none", bars)

	got, err := f.FetchBars(context.Background(), "600000", "CN_A", "20240102", "20240103", "none")
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestFetchBars_ReturnsConfiguredError(t *testing.T) {
	f := New()
	f.SetError(errs.UpstreamError("rate_limited", true, nil))

	_, err := f.FetchBars(context.Background(), "600000", "CN_A", "20240102", "20240103", "none")
	assert.Error(t, err)
}

func TestFetchBars_RecordsCalls(t *testing.T) {
	f := New()
	_, _ = f.FetchBars(context.Background(), "600000", "CN_A", "20240102", "20240103", "none")
	calls := f.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "600000", calls[0].Symbol)
}

func TestFetchBars_CancelableDuringLatency(t *testing.T) {
	f := New()
	f.SetLatency(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FetchBars(ctx, "600000", "CN_A", "20240102", "20240103", "none")
	assert.Error(t, err)
}
