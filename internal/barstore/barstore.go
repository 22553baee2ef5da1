// Package barstore is the durable row store for bars, backed by the
// shared SQLite cache database. It provides range semantics over the
// (asset_id, period, adjust_mode, trade_date) composite key.
package barstore

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/errs"
)

// Bar is one OHLCV row. All numeric fields are nullable per §3 —
// upstream providers routinely omit turnover/amplitude/etc. for some
// symbols or periods.
type Bar struct {
	TradeDate     string // YYYYMMDD
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

// Period distinguishes equity daily bars ("none") from index series
// bars ("daily"|"weekly"|"monthly"), per the shared-table resolution
// of the index-series Open Question.
const (
	PeriodNone    = "none"
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Coverage summarizes the stored range for one (asset_id, adjust_mode).
type Coverage struct {
	Earliest string
	Latest   string
	Count    int
}

// Store is the BarStore implementation.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New constructs a Store over an already-migrated database connection.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "barstore").Logger()}
}

// ReadRange returns the bars for (assetID, period, adjustMode) with
// trade_date in [start, end], ordered by trade_date ascending.
func (s *Store) ReadRange(assetID int64, period, adjustMode, start, end string) ([]Bar, error) {
	rows, err := s.db.Query(`
		SELECT trade_date, open, high, low, close, volume, turnover, amplitude,
		       pct_change, change, turnover_rate, adjusted_close
		FROM bars
		WHERE asset_id = ? AND period = ? AND adjust_mode = ?
		  AND trade_date >= ? AND trade_date <= ?
		ORDER BY trade_date ASC
	`, assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("read bar range: %w", err)
	}
	defer rows.Close()

	var bars []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.TradeDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&b.Turnover, &b.Amplitude, &b.PctChange, &b.Change, &b.TurnoverRate, &b.AdjustedClose); err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return bars, nil
}

// Upsert writes bars for (assetID, period, adjustMode) in a single
// transaction. Conflict on (asset_id, period, adjust_mode, trade_date)
// replaces every non-key field with the incoming value; the write is
// all-or-nothing.
func (s *Store) Upsert(assetID int64, period, adjustMode string, bars []Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bar upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO bars (asset_id, period, adjust_mode, trade_date, open, high, low,
		                   close, volume, turnover, amplitude, pct_change, change,
		                   turnover_rate, adjusted_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, period, adjust_mode, trade_date) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			turnover = excluded.turnover,
			amplitude = excluded.amplitude,
			pct_change = excluded.pct_change,
			change = excluded.change,
			turnover_rate = excluded.turnover_rate,
			adjusted_close = excluded.adjusted_close
	`)
	if err != nil {
		return fmt.Errorf("prepare bar upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if b.TradeDate == "" {
			return errs.SchemaViolation("bar missing trade_date")
		}
		if _, err := stmt.Exec(assetID, period, adjustMode, b.TradeDate, b.Open, b.High, b.Low,
			b.Close, b.Volume, b.Turnover, b.Amplitude, b.PctChange, b.Change, b.TurnoverRate,
			b.AdjustedClose); err != nil {
			return fmt.Errorf("upsert bar %s: %w", b.TradeDate, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bar upsert transaction: %w", err)
	}

	s.log.Debug().Int64("asset_id", assetID).Int("count", len(bars)).Msg("upserted bars")
	return nil
}

// Delete removes bars for (assetID, period, adjustMode) within
// [start, end], or the whole series if both are empty.
func (s *Store) Delete(assetID int64, period, adjustMode, start, end string) error {
	query := "DELETE FROM bars WHERE asset_id = ? AND period = ? AND adjust_mode = ?"
	args := []any{assetID, period, adjustMode}
	if start != "" {
		query += " AND trade_date >= ?"
		args = append(args, start)
	}
	if end != "" {
		query += " AND trade_date <= ?"
		args = append(args, end)
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("delete bars: %w", err)
	}
	return nil
}

// Coverage reports the stored range for (assetID, adjustMode), or nil
// if nothing is stored.
func (s *Store) Coverage(assetID int64, period, adjustMode string) (*Coverage, error) {
	var earliest, latest sql.NullString
	var count int
	err := s.db.QueryRow(`
		SELECT MIN(trade_date), MAX(trade_date), COUNT(*)
		FROM bars
		WHERE asset_id = ? AND period = ? AND adjust_mode = ?
	`, assetID, period, adjustMode).Scan(&earliest, &latest, &count)
	if err != nil {
		return nil, fmt.Errorf("query bar coverage: %w", err)
	}
	if count == 0 || !earliest.Valid {
		return nil, nil
	}
	return &Coverage{Earliest: earliest.String, Latest: latest.String, Count: count}, nil
}

// TradeDatesWithData returns the trade dates in [start, end] already
// stored for (assetID, period, adjustMode), determined by a single range scan
// rather than a per-day lookup, as required by GapResolver's step 2.
func (s *Store) TradeDatesWithData(assetID int64, period, adjustMode string, start, end string) (map[string]struct{}, error) {
	rows, err := s.db.Query(`
		SELECT trade_date FROM bars
		WHERE asset_id = ? AND period = ? AND adjust_mode = ?
		  AND trade_date >= ? AND trade_date <= ?
	`, assetID, period, adjustMode, start, end)
	if err != nil {
		return nil, fmt.Errorf("query stored trade dates: %w", err)
	}
	defer rows.Close()

	present := make(map[string]struct{})
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan trade date: %w", err)
		}
		present[d] = struct{}{}
	}
	return present, rows.Err()
}
