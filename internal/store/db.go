// Package store provides the embedded database connection and schema
// migration for the bar/asset/coverage/TTL cache database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver
)

// DB wraps the database connection with production-grade configuration.
type DB struct {
	conn *sql.DB
	path string
}

// Config holds database configuration.
type Config struct {
	Path string
}

// New creates a new database connection with WAL mode and a tuned PRAGMA
// profile, suitable for a single-writer, many-reader embedded cache.
func New(cfg Config) (*DB, error) {
	if strings.HasPrefix(cfg.Path, "file:") {
		// file: URIs (e.g. in-memory databases in tests) skip filepath operations.
	} else {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path to absolute: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configureConnectionPool(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path}, nil
}

// buildConnectionString builds a SQLite connection string with the PRAGMAs
// appropriate for a cache that is written frequently and read concurrently.
func buildConnectionString(path string) string {
	connStr := path + "?_pragma=journal_mode(WAL)"
	connStr += "&_pragma=synchronous(NORMAL)"      // fsync at checkpoints, not every write
	connStr += "&_pragma=auto_vacuum(INCREMENTAL)" // gradual space reclamation
	connStr += "&_pragma=temp_store(MEMORY)"
	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)" // 64MB page cache
	return connStr
}

func configureConnectionPool(conn *sql.DB) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection for packages building their
// own queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// findSchemaFile locates schema.sql next to this source file, independent of
// the process's working directory.
func findSchemaFile() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	absFile, err := filepath.Abs(currentFile)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path of source file: %w", err)
	}
	schemaPath := filepath.Join(filepath.Dir(absFile), "schema.sql")
	if _, err := os.Stat(schemaPath); err != nil {
		return "", fmt.Errorf("schema file not found at %s: %w", schemaPath, err)
	}
	return schemaPath, nil
}

// Migrate applies schema.sql. It tolerates re-application against an
// already-migrated database (duplicate column / already-exists errors are
// swallowed) so startup never needs a separate "is this fresh?" check.
func (db *DB) Migrate() error {
	schemaPath, err := findSchemaFile()
	if err != nil {
		return fmt.Errorf("locate schema: %w", err)
	}

	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}

	if _, err := tx.Exec(string(content)); err != nil {
		_ = tx.Rollback()
		errStr := err.Error()
		if strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists") {
			return nil
		}
		return fmt.Errorf("apply schema: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint. The scheduler's wal_checkpoint job
// calls this on a PASSIVE cadence to keep the WAL file from growing
// unbounded between the TRUNCATE checkpoints SQLite performs on close.
func (db *DB) WALCheckpoint(mode string) error {
	if mode == "" {
		mode = "TRUNCATE"
	}
	_, err := db.conn.Exec(fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode))
	if err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	return nil
}

// Stats reports on-disk database statistics, surfaced through cache_stats().
type Stats struct {
	SizeBytes     int64
	WALSizeBytes  int64
	PageCount     int64
	PageSize      int64
	FreelistCount int64
}

// GetStats retrieves database statistics.
func (db *DB) GetStats() (*Stats, error) {
	stats := &Stats{}

	if fi, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = fi.Size()
	}
	if err := db.conn.QueryRow("PRAGMA page_count").Scan(&stats.PageCount); err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA page_size").Scan(&stats.PageSize); err != nil {
		return nil, fmt.Errorf("page size: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA freelist_count").Scan(&stats.FreelistCount); err != nil {
		return nil, fmt.Errorf("freelist count: %w", err)
	}
	return stats, nil
}
