package ttlcache

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quantdb/internal/store"
)

type payload struct {
	Price float64 `json:"price"`
}

func TestPutGet_RoundTrips(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	key := Key(KindQuote, "CN_A", "600000")
	require.NoError(t, c.Put(KindQuote, "CN_A", key, payload{Price: 12.3}, time.Hour))

	var got payload
	ok, err := c.Get(key, &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12.3, got.Price)
}

func TestGet_MissWhenAbsent(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	var got payload
	ok, err := c.Get("nonexistent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_MissWhenExpired(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	key := Key(KindHotHistoryGuard, "CN_A", "600000", "20240110")
	require.NoError(t, c.Put(KindHotHistoryGuard, "CN_A", key, payload{}, -time.Second))

	ok, err := c.Get(key, &payload{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFresh_ReadYourWrites(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	key := Key(KindHotHistoryGuard, "CN_A", "600000", "20240110")
	ok, err := c.Fresh(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(KindHotHistoryGuard, "CN_A", key, payload{}, 60*time.Second))
	ok, err = c.Fresh(key)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidate_RemovesKey(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	key := Key(KindQuote, "CN_A", "600000")
	require.NoError(t, c.Put(KindQuote, "CN_A", key, payload{}, time.Hour))
	require.NoError(t, c.Invalidate(key))

	ok, _ := c.Fresh(key)
	assert.False(t, ok)
}

func TestInvalidatePrefix_RemovesMatchingKeysOnly(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	k1 := Key(KindQuote, "CN_A", "600000")
	k2 := Key(KindFinancialSummary, "CN_A", "600000")
	k3 := Key(KindQuote, "CN_A", "000001")
	require.NoError(t, c.Put(KindQuote, "CN_A", k1, payload{}, time.Hour))
	require.NoError(t, c.Put(KindFinancialSummary, "CN_A", k2, payload{}, time.Hour))
	require.NoError(t, c.Put(KindQuote, "CN_A", k3, payload{}, time.Hour))

	require.NoError(t, c.InvalidatePrefix("quote:CN_A:600000"))

	ok, _ := c.Fresh(k1)
	assert.False(t, ok)
	ok, _ = c.Fresh(k2)
	assert.True(t, ok)
	ok, _ = c.Fresh(k3)
	assert.True(t, ok)
}

func TestPut_DefaultTTLOverridesPolicy(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), -time.Second)

	key := Key(KindStockList, "CN_A", "all")
	// KindStockList's own policy is 24h either way; a negative
	// defaultTTL must still win and expire the entry immediately.
	require.NoError(t, c.Put(KindStockList, "CN_A", key, payload{}, 0))

	ok, err := c.Fresh(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	db, cleanup := store.NewTestDB(t)
	defer cleanup()
	c := New(db.Conn(), zerolog.Nop(), 0)

	expired := Key(KindQuote, "CN_A", "600000")
	fresh := Key(KindQuote, "CN_A", "000001")
	require.NoError(t, c.Put(KindQuote, "CN_A", expired, payload{}, -time.Second))
	require.NoError(t, c.Put(KindQuote, "CN_A", fresh, payload{}, time.Hour))

	n, err := c.Sweep(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, _ := c.Fresh(fresh)
	assert.True(t, ok)
}
