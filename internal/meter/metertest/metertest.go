// Package metertest provides a migrated on-disk store for tests in
// other packages.
package metertest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/meterlink/meterlink-core/internal/infrastructure/database"
	"github.com/meterlink/meterlink-core/internal/meter"
	_ "github.com/meterlink/meterlink-core/migrations" // registers the embedded schema
)

// OpenDB opens and migrates a temporary database, closed on cleanup.
func OpenDB(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "meterlink-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

// NewStore returns a SQLiteStore backed by a fresh database.
func NewStore(t testing.TB) *meter.SQLiteStore {
	t.Helper()
	return meter.NewSQLiteStore(OpenDB(t).Sqlx())
}
