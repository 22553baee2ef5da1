package store

import (
	"os"
	"testing"
)

// NewTestDB creates a temp-file SQLite database with the schema applied.
// Returns the database instance and an idempotent cleanup function.
func NewTestDB(t *testing.T) (*DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "quantdb_test_*.db")
	if err != nil {
		t.Fatalf("failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := New(Config{Path: tmpPath})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("warning: failed to close test database: %v", err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(tmpPath + suffix); err != nil && !os.IsNotExist(err) {
				t.Logf("warning: failed to remove %s: %v", tmpPath+suffix, err)
			}
		}
	}
}
