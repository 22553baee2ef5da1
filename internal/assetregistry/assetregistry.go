// Package assetregistry resolves symbol to asset_id and caches
// descriptive fields, backed by the shared SQLite `assets` table.
package assetregistry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/errs"
	"github.com/aristath/quantdb/internal/fetcher"
)

// descriptiveStalenessWindow is the policy window past which a stored
// Asset record is considered stale enough to warrant a refresh.
const descriptiveStalenessWindow = 24 * time.Hour

// Asset is the descriptive record cached for a resolved symbol.
type Asset struct {
	AssetID     int64
	Symbol      string
	Market      string
	Exchange    string
	Name        string
	Currency    string
	AssetType   string
	Industry    string
	ListingDate string
	PERatio     *float64
	PBRatio     *float64
	ROE         *float64
	DataSource  string
	RefreshedAt time.Time
}

// Registry is the AssetRegistry implementation.
type Registry struct {
	db      *sql.DB
	fetcher fetcher.Fetcher
	log     zerolog.Logger
}

func New(db *sql.DB, f fetcher.Fetcher, log zerolog.Logger) *Registry {
	return &Registry{db: db, fetcher: f, log: log.With().Str("component", "assetregistry").Logger()}
}

// Resolve allocates an asset_id for symbol on first sight and persists
// the mapping; idempotent on repeated calls. Concurrent resolves racing
// on the same new symbol use INSERT OR IGNORE followed by a read-back
// so exactly one allocation wins and every caller returns its id.
func (r *Registry) Resolve(symbol string) (int64, error) {
	market, err := calendar.InferMarket(symbol)
	if err != nil {
		return 0, err
	}
	symbol = strings.TrimSpace(symbol)

	now := time.Now().Unix()
	_, err = r.db.Exec(`
		INSERT OR IGNORE INTO assets (symbol, market, created_at) VALUES (?, ?, ?)
	`, symbol, string(market), now)
	if err != nil {
		return 0, fmt.Errorf("resolve: insert asset: %w", err)
	}

	var assetID int64
	err = r.db.QueryRow(`SELECT asset_id FROM assets WHERE symbol = ?`, symbol).Scan(&assetID)
	if err != nil {
		return 0, fmt.Errorf("resolve: read back asset_id: %w", err)
	}
	return assetID, nil
}

// Describe returns the descriptive record for symbol. If missing, not
// yet populated, or older than the staleness window (or forceRefresh is
// set), it attempts an upstream descriptive fetch; on upstream failure
// it returns the best available record tagged data_source=default with
// a generated display name.
func (r *Registry) Describe(ctx context.Context, symbol string, forceRefresh bool) (*Asset, error) {
	assetID, err := r.Resolve(symbol)
	if err != nil {
		return nil, err
	}

	asset, err := r.get(assetID)
	if err != nil {
		return nil, err
	}

	stale := forceRefresh || asset.RefreshedAt.IsZero() || time.Since(asset.RefreshedAt) > descriptiveStalenessWindow
	if !stale {
		return asset, nil
	}

	market, _ := calendar.InferMarket(symbol)
	info, err := r.fetcher.FetchAssetInfo(ctx, symbol, string(market))
	if err != nil {
		r.log.Warn().Err(err).Str("symbol", symbol).Msg("descriptive fetch failed, using default record")
		if asset.Name == "" {
			asset.Name = defaultDisplayName(symbol)
		}
		asset.DataSource = "default"
		if updateErr := r.persist(asset); updateErr != nil {
			return nil, updateErr
		}
		return asset, nil
	}

	asset.Name = info.Name
	asset.Exchange = info.Exchange
	asset.Currency = info.Currency
	if info.AssetType != "" {
		asset.AssetType = info.AssetType
	}
	asset.Industry = info.Industry
	asset.ListingDate = info.ListingDate
	asset.PERatio = info.PERatio
	asset.PBRatio = info.PBRatio
	asset.ROE = info.ROE
	asset.DataSource = "akshare"
	asset.RefreshedAt = time.Now()

	if err := r.persist(asset); err != nil {
		return nil, err
	}
	return asset, nil
}

func defaultDisplayName(symbol string) string {
	return fmt.Sprintf("Unnamed (%s)", symbol)
}

func (r *Registry) get(assetID int64) (*Asset, error) {
	var a Asset
	var refreshedAt int64
	var pe, pb, roe sql.NullFloat64
	err := r.db.QueryRow(`
		SELECT asset_id, symbol, market, exchange, name, currency, asset_type, industry,
		       listing_date, pe_ratio, pb_ratio, roe, data_source, descriptive_refreshed_at
		FROM assets WHERE asset_id = ?
	`, assetID).Scan(&a.AssetID, &a.Symbol, &a.Market, &a.Exchange, &a.Name, &a.Currency, &a.AssetType,
		&a.Industry, &a.ListingDate, &pe, &pb, &roe, &a.DataSource, &refreshedAt)
	if err != nil {
		return nil, fmt.Errorf("get asset %d: %w", assetID, err)
	}
	if pe.Valid {
		a.PERatio = &pe.Float64
	}
	if pb.Valid {
		a.PBRatio = &pb.Float64
	}
	if roe.Valid {
		a.ROE = &roe.Float64
	}
	if refreshedAt > 0 {
		a.RefreshedAt = time.Unix(refreshedAt, 0).UTC()
	}
	return &a, nil
}

func (r *Registry) persist(a *Asset) error {
	refreshedAt := int64(0)
	if !a.RefreshedAt.IsZero() {
		refreshedAt = a.RefreshedAt.Unix()
	}
	_, err := r.db.Exec(`
		UPDATE assets SET exchange = ?, name = ?, currency = ?, asset_type = ?, industry = ?,
		       listing_date = ?, pe_ratio = ?, pb_ratio = ?, roe = ?, data_source = ?,
		       descriptive_refreshed_at = ?
		WHERE asset_id = ?
	`, a.Exchange, a.Name, a.Currency, a.AssetType, a.Industry, a.ListingDate,
		a.PERatio, a.PBRatio, a.ROE, a.DataSource, refreshedAt, a.AssetID)
	if err != nil {
		return fmt.Errorf("persist asset %d: %w", a.AssetID, err)
	}
	return nil
}

// SymbolForAsset reverses Resolve, mapping an asset_id back to its
// symbol.
func (r *Registry) SymbolForAsset(assetID int64) (string, error) {
	var symbol string
	err := r.db.QueryRow(`SELECT symbol FROM assets WHERE asset_id = ?`, assetID).Scan(&symbol)
	if err == sql.ErrNoRows {
		return "", errs.UnrecognizedSymbol(fmt.Sprintf("asset_id %d", assetID))
	}
	if err != nil {
		return "", fmt.Errorf("symbol for asset %d: %w", assetID, err)
	}
	return symbol, nil
}
