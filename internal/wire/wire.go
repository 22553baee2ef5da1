// Package wire builds the fully-wired set of QuantDB components from a
// Config — the single place the process assembles Store, Calendar,
// BarStore, CoverageIndex, AssetRegistry, Fetcher, TTLCache, Metrics,
// the HistoricalEngine, the optional Backup uploader, and the
// Scheduler, following the ordered-phase container pattern the
// ecosystem already uses for process startup: init storage, then
// domain components, then the engine that ties them together, then
// background jobs, with cleanup on any phase's failure.
package wire

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/quantdb/internal/assetregistry"
	"github.com/aristath/quantdb/internal/backup"
	"github.com/aristath/quantdb/internal/barstore"
	"github.com/aristath/quantdb/internal/calendar"
	"github.com/aristath/quantdb/internal/config"
	"github.com/aristath/quantdb/internal/coverageindex"
	"github.com/aristath/quantdb/internal/fetcher"
	"github.com/aristath/quantdb/internal/fetcher/akshare"
	"github.com/aristath/quantdb/internal/historical"
	"github.com/aristath/quantdb/internal/metrics"
	"github.com/aristath/quantdb/internal/scheduler"
	"github.com/aristath/quantdb/internal/store"
	"github.com/aristath/quantdb/internal/ttlcache"
)

// Container holds every wired component for the process lifetime. It is
// the single source of truth handed to the facade and to the
// scheduler's jobs.
type Container struct {
	Config *config.Config

	DB         *store.DB
	Calendar   *calendar.Calendar
	Bars       *barstore.Store
	Coverage   *coverageindex.Index
	Assets     *assetregistry.Registry
	Fetch      fetcher.Fetcher
	TTL        *ttlcache.Cache
	Metrics    *metrics.Metrics
	Historical *historical.Engine
	Backup     *backup.Backup // Run is a no-op if backup is disabled
	Scheduler  *scheduler.Scheduler
}

// Wire assembles a Container from cfg. On any failure, everything
// opened by an earlier phase is closed before the error is returned.
//
// Order of operations:
//  1. Open the embedded database and apply migrations.
//  2. Load (or build empty) the Calendar, refreshing if empty/stale.
//  3. Construct the domain components (BarStore, CoverageIndex,
//     AssetRegistry, Fetcher, TTLCache, Metrics).
//  4. Construct the HistoricalEngine tying them together.
//  5. Construct the optional Backup uploader.
//  6. Build the Scheduler and register its background jobs.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	db, err := store.New(store.Config{Path: cfg.DBPath})
	if err != nil {
		return nil, fmt.Errorf("wire: open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("wire: migrate database: %w", err)
	}

	cal := calendar.New(cfg.CacheDir, log)
	if cal.NeedsRefresh(time.Now()) {
		if err := cal.Refresh(""); err != nil {
			db.Close()
			return nil, fmt.Errorf("wire: refresh calendar: %w", err)
		}
	}

	conn := db.Conn()
	bars := barstore.New(conn, log)
	coverage := coverageindex.New(conn, log)
	fetch := akshare.New(cfg.AKShareBaseURL, log)
	assets := assetregistry.New(conn, fetch, log)
	ttl := ttlcache.New(conn, log, cfg.DefaultTTL)
	met := metrics.New(log)

	hist := historical.New(conn, cal, bars, coverage, assets, fetch, ttl, met, historical.Config{
		MaxConcurrentUpstream: cfg.MaxConcurrency,
	}, log)

	bck, err := backup.New(ctx, cfg.Backup, db.Path(), cal.SnapshotPath(), log)
	if err != nil {
		fetch.Close()
		db.Close()
		return nil, fmt.Errorf("wire: construct backup: %w", err)
	}

	c := &Container{
		Config:     cfg,
		DB:         db,
		Calendar:   cal,
		Bars:       bars,
		Coverage:   coverage,
		Assets:     assets,
		Fetch:      fetch,
		TTL:        ttl,
		Metrics:    met,
		Historical: hist,
		Backup:     bck,
	}

	sched, err := registerJobs(c, log)
	if err != nil {
		fetch.Close()
		db.Close()
		return nil, fmt.Errorf("wire: register jobs: %w", err)
	}
	c.Scheduler = sched

	log.Info().Str("cache_dir", cfg.CacheDir).Str("db_path", cfg.DBPath).Msg("quantdb wired")
	return c, nil
}

// Close releases every resource opened by Wire. Safe to call once,
// typically from a deferred call or a graceful-shutdown handler.
func (c *Container) Close() error {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if f, ok := c.Fetch.(interface{ Close() }); ok {
		f.Close()
	}
	return c.DB.Close()
}
