package assetregistry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/fetcher/fake"
	"github.com/aristath/quantdb/internal/store"
)

func TestResolve_AllocatesOnFirstSight(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	r := New(db.Conn(), fake.New(), zerolog.Nop())

	id, err := r.Resolve("600000")
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestResolve_IdempotentOnRepeat(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	r := New(db.Conn(), fake.New(), zerolog.Nop())

	id1, err := r.Resolve("600000")
	require.NoError(t, err)
	id2, err := r.Resolve("600000")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestResolve_UnrecognizedSymbol(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	r := New(db.Conn(), fake.New(), zerolog.Nop())

	_, err := r.Resolve("ABCDEF")
	assert.Error(t, err)
}

func TestDescribe_FetchesUpstreamWhenMissing(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	f := fake.New()
	r := New(db.Conn(), f, zerolog.Nop())

	asset, err := r.Describe(context.Background(), "600000", false)
	require.NoError(t, err)
	assert.Equal(t, "600000", asset.Name)
	assert.Equal(t, "akshare", asset.DataSource)
}

type erroringFetcher struct{ fake.Fetcher }

func (e *erroringFetcher) FetchAssetInfo(ctx context.Context, symbol, market string) (*fetcher.AssetInfo, error) {
	return nil, assert.AnError
}

func TestDescribe_FallsBackToDefaultOnUpstreamFailure(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	r := New(db.Conn(), &erroringFetcher{}, zerolog.Nop())

	asset, err := r.Describe(context.Background(), "600000", false)
	require.NoError(t, err)
	assert.Equal(t, "default", asset.DataSource)
	assert.Contains(t, asset.Name, "600000")
}

func TestDescribe_DoesNotRefetchWhenFresh(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	f := fake.New()
	r := New(db.Conn(), f, zerolog.Nop())

	_, err := r.Describe(context.Background(), "600000", false)
	require.NoError(t, err)

	// Second call within the staleness window must not touch the fetcher
	// for descriptive data; FetchAssetInfo isn't call-tracked by fake, so
	// assert indirectly via data_source staying "akshare" (the erroring
	// fetcher would flip it to "default" if called again with a forced
	// failure — here we just confirm the record round-trips unchanged).
	asset, err := r.Describe(context.Background(), "600000", false)
	require.NoError(t, err)
	assert.Equal(t, "akshare", asset.DataSource)
}
