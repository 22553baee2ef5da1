// Package ttlcache is the generic keyed store for objects whose
// correctness is a function of freshness only: quotes, stock lists,
// financial summaries, and the hot-history refetch guard. It follows
// the same SQLite-JSON-blob-with-expiry shape the ecosystem uses for
// caching external API responses, generalized from a fixed per-table
// TTL to a per-kind TTL resolved against market hours.
package ttlcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/calendar"
)

// Kind enumerates the recognized cache kinds and their TTL policy.
type Kind string

const (
	KindQuote             Kind = "quote"
	KindStockList         Kind = "stock_list"
	KindIndexList         Kind = "index_list"
	KindFinancialSummary  Kind = "financial_summary"
	KindHotHistoryGuard   Kind = "hot_history_guard"
)

// ttlPolicy is the (market-hours, off-hours) TTL pair for a Kind.
type ttlPolicy struct {
	marketHours time.Duration
	offHours    time.Duration
}

var policies = map[Kind]ttlPolicy{
	KindQuote:            {marketHours: 5 * time.Minute, offHours: 60 * time.Minute},
	KindStockList:        {marketHours: 24 * time.Hour, offHours: 24 * time.Hour},
	KindIndexList:        {marketHours: 24 * time.Hour, offHours: 24 * time.Hour},
	KindFinancialSummary: {marketHours: 24 * time.Hour, offHours: 24 * time.Hour},
	KindHotHistoryGuard:  {marketHours: 60 * time.Second, offHours: 30 * time.Minute},
}

// Cache is the TTLCache implementation, backed by the `ttl_entries`
// table in the shared cache database.
type Cache struct {
	db         *sql.DB
	log        zerolog.Logger
	defaultTTL time.Duration
}

// New constructs a Cache. defaultTTL, if non-zero, overrides every
// kind's per-kind policy TTL uniformly (QDB_CACHE_TTL); zero means use
// each kind's own market-hours-aware policy from resolveTTL.
func New(db *sql.DB, log zerolog.Logger, defaultTTL time.Duration) *Cache {
	return &Cache{db: db, log: log.With().Str("component", "ttlcache").Logger(), defaultTTL: defaultTTL}
}

// Key builds the structured cache key `kind:market:symbol:extra`. extra
// is joined with ':' and may be omitted.
func Key(kind Kind, market, symbol string, extra ...string) string {
	k := fmt.Sprintf("%s:%s:%s", kind, market, symbol)
	for _, e := range extra {
		k += ":" + e
	}
	return k
}

// resolveTTL returns the policy TTL for kind, using market's current
// open/closed state. If market is unrecognized or Calendar cannot
// determine the session, the off-hours (more conservative) TTL is used.
func resolveTTL(kind Kind, market string) time.Duration {
	p, ok := policies[kind]
	if !ok {
		return 0
	}
	open, err := calendar.IsMarketOpenNow(calendar.Market(market))
	if err != nil || !open {
		return p.offHours
	}
	return p.marketHours
}

// Put stores payload under key. The TTL is ttlOverride if non-zero,
// else the cache's defaultTTL if non-zero, else the kind's policy TTL
// (market-hours aware) — the engine's hot-run guard passes zero and so
// gets its kind's policy unless a defaultTTL is configured.
func (c *Cache) Put(kind Kind, market, key string, payload any, ttlOverride time.Duration) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ttlcache payload: %w", err)
	}

	ttl := ttlOverride
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl == 0 {
		ttl = resolveTTL(kind, market)
	}
	now := time.Now()
	expiresAt := now.Add(ttl).Unix()

	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO ttl_entries (cache_key, kind, payload, inserted_at, expires_at, source_tag)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, string(kind), string(data), now.Unix(), expiresAt, "")
	if err != nil {
		return fmt.Errorf("put ttlcache entry: %w", err)
	}
	return nil
}

// Get returns the payload for key if it has not expired, unmarshaled
// into out. Returns (false, nil) on a miss (absent or expired).
func (c *Cache) Get(key string, out any) (bool, error) {
	var payload string
	var expiresAt int64
	err := c.db.QueryRow(`SELECT payload, expires_at FROM ttl_entries WHERE cache_key = ?`, key).
		Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get ttlcache entry: %w", err)
	}
	if time.Now().Unix() >= expiresAt {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal([]byte(payload), out); err != nil {
			return false, fmt.Errorf("unmarshal ttlcache payload: %w", err)
		}
	}
	return true, nil
}

// Fresh reports whether key exists and has not expired, without
// decoding the payload — used by the hot-run guard, which only cares
// about presence.
func (c *Cache) Fresh(key string) (bool, error) {
	return c.Get(key, nil)
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) error {
	if _, err := c.db.Exec(`DELETE FROM ttl_entries WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("invalidate ttlcache key: %w", err)
	}
	return nil
}

// InvalidatePrefix removes every key starting with prefix, used by
// clear_cache(symbol) to drop that symbol's cached quote/summary rows.
func (c *Cache) InvalidatePrefix(prefix string) error {
	if _, err := c.db.Exec(`DELETE FROM ttl_entries WHERE cache_key LIKE ?`, prefix+"%"); err != nil {
		return fmt.Errorf("invalidate ttlcache prefix: %w", err)
	}
	return nil
}

// Sweep deletes every expired entry, bounded to at most limit rows per
// call so a periodic scheduler job never holds the write lock long.
func (c *Cache) Sweep(limit int) (int, error) {
	res, err := c.db.Exec(`
		DELETE FROM ttl_entries WHERE cache_key IN (
			SELECT cache_key FROM ttl_entries WHERE expires_at <= ? LIMIT ?
		)
	`, time.Now().Unix(), limit)
	if err != nil {
		return 0, fmt.Errorf("sweep ttlcache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep ttlcache rows affected: %w", err)
	}
	return int(n), nil
}
