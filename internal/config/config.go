// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables, optionally backed by
// a .env file. There is no runtime settings database in this module: the
// environment is the single source of truth.
//
// Configuration Loading Order:
// 1. Load from .env file (if exists)
// 2. Read environment variables with typed defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the QuantDB cache process.
type Config struct {
	CacheDir       string        // Base directory for the bar database and calendar snapshot
	DBPath         string        // Explicit override of the bar database file path
	LogLevel       string        // debug, info, warn, error
	DefaultTTL     time.Duration // Uniform override of every §4.7 TTL, 0 disables the override
	MaxConcurrency int           // Bound on concurrent upstream Fetcher calls (§5 backpressure)
	AKShareBaseURL string        // Base URL of the AKShare HTTP gateway

	Backup BackupConfig
}

// BackupConfig controls the optional S3-compatible snapshot backup of the
// persisted cache state (bar database + calendar snapshot file).
type BackupConfig struct {
	Enabled  bool
	Bucket   string
	Prefix   string
	Interval time.Duration
	Region   string
}

// Load reads configuration from environment variables.
//
// cacheDirOverride, if non-empty, takes priority over QDB_CACHE_DIR and the
// built-in default.
func Load(cacheDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var cacheDir string
	if len(cacheDirOverride) > 0 && cacheDirOverride[0] != "" {
		cacheDir = cacheDirOverride[0]
	} else {
		cacheDir = getEnv("QDB_CACHE_DIR", "")
		if cacheDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				home = "."
			}
			cacheDir = filepath.Join(home, ".quantdb_cache")
		}
	}

	absCacheDir, err := filepath.Abs(cacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	if err := os.MkdirAll(absCacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cfg := &Config{
		CacheDir:       absCacheDir,
		DBPath:         getEnv("QDB_DB_PATH", ""),
		LogLevel:       getEnv("QDB_LOG_LEVEL", "info"),
		DefaultTTL:     getEnvAsDuration("QDB_CACHE_TTL", 0),
		MaxConcurrency: getEnvAsInt("QDB_MAX_CONCURRENT_UPSTREAM", 8),
		AKShareBaseURL: getEnv("QDB_AKSHARE_BASE_URL", "https://akshare.akfamily.xyz"),
		Backup: BackupConfig{
			Enabled:  getEnv("QDB_BACKUP_BUCKET", "") != "",
			Bucket:   getEnv("QDB_BACKUP_BUCKET", ""),
			Prefix:   getEnv("QDB_BACKUP_PREFIX", "quantdb"),
			Interval: getEnvAsDuration("QDB_BACKUP_INTERVAL", 6*time.Hour),
			Region:   getEnv("QDB_BACKUP_REGION", "auto"),
		},
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.CacheDir, "quantdb.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that dependent configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("QDB_MAX_CONCURRENT_UPSTREAM must be positive, got %d", c.MaxConcurrency)
	}
	if c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("backup enabled but QDB_BACKUP_BUCKET is empty")
	}
	return nil
}

// ==========================================
// Helper Functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
