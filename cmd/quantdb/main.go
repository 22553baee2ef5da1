// Command quantdb runs the cache as a standalone process: it wires the
// database, calendar, and background scheduler through quantdb.Open,
// then blocks until it receives SIGINT/SIGTERM.
//
// Most embedders will import the quantdb package directly instead of
// running this binary; it exists so the scheduler (calendar refresh,
// TTL sweep, coverage rebuild, metrics sampling, backup) keeps running
// unattended, and as a smoke test that Open/Close work end to end.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	quantdb "github.com/aristath/quantdb"
	"github.com/aristath/quantdb/internal/config"
	"github.com/aristath/quantdb/pkg/logger"
)

func main() {
	// Config is loaded twice on purpose: once here so a config error can
	// be logged before Open's internal load repeats it, once inside
	// Open itself (the only place a *config.Config actually lives).
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Str("cache_dir", cfg.CacheDir).Msg("starting quantdb")

	client, err := quantdb.Open(cfg.CacheDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire quantdb")
	}
	log.Info().Msg("quantdb wired, scheduler running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("error during shutdown")
		}
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timed out, exiting anyway")
	}

	log.Info().Msg("quantdb stopped")
}
