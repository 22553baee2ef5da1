// Package coverageindex maintains, per (asset_id, period, adjust_mode),
// the summary tuple GapResolver needs without scanning the bars table:
// the earliest and latest stored trade date and the row count. The
// index is updated atomically after every BarStore upsert rather than
// derived lazily, so a GapResolver call never pays for a full table
// scan.
package coverageindex

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/errs"
)

// Record is the summary tuple for one (asset_id, period, adjust_mode).
type Record struct {
	AssetID   int64
	Period    string
	Adjust    string
	Earliest  string
	Latest    string
	BarCount  int
	FirstSeen time.Time
	LastUsed  time.Time
	UpdatedAt time.Time
}

// Index is the CoverageIndex implementation, backed by the `coverage`
// table in the shared cache database.
type Index struct {
	db  *sql.DB
	log zerolog.Logger
}

func New(db *sql.DB, log zerolog.Logger) *Index {
	return &Index{db: db, log: log.With().Str("component", "coverageindex").Logger()}
}

// Get returns the current summary for (assetID, period, adjustMode), or
// nil if nothing has been recorded yet.
func (i *Index) Get(assetID int64, period, adjustMode string) (*Record, error) {
	var r Record
	var first, last, updated int64
	err := i.db.QueryRow(`
		SELECT asset_id, period, adjust_mode, earliest_date, latest_date, bar_count,
		       first_requested_at, last_accessed_at, last_updated_at
		FROM coverage WHERE asset_id = ? AND period = ? AND adjust_mode = ?
	`, assetID, period, adjustMode).Scan(&r.AssetID, &r.Period, &r.Adjust, &r.Earliest, &r.Latest, &r.BarCount, &first, &last, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query coverage: %w", err)
	}
	r.FirstSeen = time.Unix(first, 0).UTC()
	r.LastUsed = time.Unix(last, 0).UTC()
	r.UpdatedAt = time.Unix(updated, 0).UTC()
	return &r, nil
}

// RecordAccess bumps last_accessed_at without touching the range.
func (i *Index) RecordAccess(assetID int64, period, adjustMode string) error {
	now := time.Now().Unix()
	_, err := i.db.Exec(`UPDATE coverage SET last_accessed_at = ? WHERE asset_id = ? AND period = ? AND adjust_mode = ?`,
		now, assetID, period, adjustMode)
	if err != nil {
		return fmt.Errorf("record coverage access: %w", err)
	}
	return nil
}

// Rebuild walks the bars table for (assetID, period, adjustMode) and
// reconstructs the summary tuple from scratch, used for repair after a
// CoverageCorruption.
func (i *Index) Rebuild(assetID int64, period, adjustMode string) error {
	var earliest, latest sql.NullString
	var count int
	err := i.db.QueryRow(`
		SELECT MIN(trade_date), MAX(trade_date), COUNT(*)
		FROM bars WHERE asset_id = ? AND period = ? AND adjust_mode = ?
	`, assetID, period, adjustMode).Scan(&earliest, &latest, &count)
	if err != nil {
		return fmt.Errorf("rebuild: scan bars: %w", err)
	}

	now := time.Now().Unix()
	if count == 0 {
		_, err := i.db.Exec(`DELETE FROM coverage WHERE asset_id = ? AND period = ? AND adjust_mode = ?`, assetID, period, adjustMode)
		if err != nil {
			return fmt.Errorf("rebuild: clear empty coverage: %w", err)
		}
		return nil
	}

	_, err = i.db.Exec(`
		INSERT INTO coverage (asset_id, period, adjust_mode, earliest_date, latest_date, bar_count,
		                       first_requested_at, last_accessed_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, period, adjust_mode) DO UPDATE SET
			earliest_date = excluded.earliest_date,
			latest_date = excluded.latest_date,
			bar_count = excluded.bar_count,
			last_updated_at = excluded.last_updated_at
	`, assetID, period, adjustMode, earliest.String, latest.String, count, now, now, now)
	if err != nil {
		return fmt.Errorf("rebuild: upsert coverage: %w", err)
	}

	i.log.Info().Int64("asset_id", assetID).Str("period", period).Int("bar_count", count).Msg("coverage rebuilt")
	return nil
}

// Update recomputes the summary tuple for (assetID, period, adjustMode)
// from the bars table and persists it, preserving first_requested_at
// across calls. Called by HistoricalEngine immediately after a
// committed BarStore upsert, inside the same logical step, keeping
// invariant 4 (CoverageIndex agrees with BarStore after every
// committed upsert). Recomputing rather than incrementing avoids
// double-counting when an upsert batch overlaps an already-covered
// sub-window.
func (i *Index) Update(assetID int64, period, adjustMode string) error {
	existing, err := i.Get(assetID, period, adjustMode)
	if err != nil {
		return err
	}

	var earliest, latest sql.NullString
	var count int
	err = i.db.QueryRow(`
		SELECT MIN(trade_date), MAX(trade_date), COUNT(*)
		FROM bars WHERE asset_id = ? AND period = ? AND adjust_mode = ?
	`, assetID, period, adjustMode).Scan(&earliest, &latest, &count)
	if err != nil {
		return fmt.Errorf("update: scan bars: %w", err)
	}
	if count == 0 {
		return nil
	}

	now := time.Now().Unix()
	firstRequestedAt := now
	if existing != nil {
		firstRequestedAt = existing.FirstSeen.Unix()
	}

	_, err = i.db.Exec(`
		INSERT INTO coverage (asset_id, period, adjust_mode, earliest_date, latest_date, bar_count,
		                       first_requested_at, last_accessed_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (asset_id, period, adjust_mode) DO UPDATE SET
			earliest_date = excluded.earliest_date,
			latest_date = excluded.latest_date,
			bar_count = excluded.bar_count,
			last_accessed_at = excluded.last_accessed_at,
			last_updated_at = excluded.last_updated_at
	`, assetID, period, adjustMode, earliest.String, latest.String, count, firstRequestedAt, now, now)
	if err != nil {
		return fmt.Errorf("update coverage: %w", err)
	}
	return nil
}

// Validate returns CoverageCorruption if the summary tuple's range is
// internally inconsistent (e.g. earliest after latest, or a negative
// count), surfaced per §7's Integrity error class.
func (r *Record) Validate() error {
	if r.BarCount < 0 {
		return errs.CoverageCorruption(fmt.Sprintf("negative bar_count for asset %d", r.AssetID))
	}
	if r.Earliest > r.Latest {
		return errs.CoverageCorruption(fmt.Sprintf("earliest_date after latest_date for asset %d", r.AssetID))
	}
	return nil
}
