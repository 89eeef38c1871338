package database

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

// useMigrations swaps the package-level migration source for the duration of a test.
func useMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()

	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})

	if fsys == nil {
		MigrationsFS = nil
	} else {
		MigrationsFS = fsys
	}
	MigrationsDir = "."
}

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"20240101_000000_create_meters.up.sql": {
			Data: []byte("CREATE TABLE test_meters (id INTEGER PRIMARY KEY, serial TEXT NOT NULL);"),
		},
		"20240101_000000_create_meters.down.sql": {
			Data: []byte("DROP TABLE test_meters;"),
		},
		"20240102_000000_add_meter_index.up.sql": {
			Data: []byte("CREATE UNIQUE INDEX idx_test_meters_serial ON test_meters(serial);"),
		},
		"20240102_000000_add_meter_index.down.sql": {
			Data: []byte("DROP INDEX idx_test_meters_serial;"),
		},
		"README.md": {Data: []byte("ignored")},
	}
}

// TestMigrate verifies migration application and idempotency.
func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	var name string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_test_meters_serial'",
	).Scan(&name)
	if err != nil {
		t.Fatalf("index idx_test_meters_serial not created: %v", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("expected 2 applied migrations, got %d", len(applied))
	}
	if len(pending) != 0 {
		t.Errorf("expected 0 pending migrations, got %d", len(pending))
	}

	version, err := db.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "20240102_000000" {
		t.Errorf("SchemaVersion() = %q, want %q", version, "20240102_000000")
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

// TestMigrateDown verifies rollback of the newest migration only.
func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations())
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE name='idx_test_meters_serial'",
	).Scan(&count); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 0 {
		t.Error("index idx_test_meters_serial should have been dropped")
	}

	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='test_meters'",
	).Scan(&count); err != nil {
		t.Fatalf("query error: %v", err)
	}
	if count != 1 {
		t.Error("table test_meters should survive a single rollback")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 1 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 1 and 1", len(applied), len(pending))
	}
}

// TestMigrateNoMigrations verifies behaviour with no migration source.
func TestMigrateNoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}

	version, err := db.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != "" {
		t.Errorf("SchemaVersion() = %q, want empty", version)
	}
}

// TestMigrateOrphanDown rejects a down file without its up file.
func TestMigrateOrphanDown(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20240101_000000_orphan.down.sql": {Data: []byte("DROP TABLE nothing;")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error for orphan down migration, got nil")
	}
}

// TestMigrateFailureRollsBack leaves earlier migrations applied.
func TestMigrateFailureRollsBack(t *testing.T) {
	fsys := testMigrations()
	fsys["20240103_000000_broken.up.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE;")}
	useMigrations(t, fsys)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() expected error for broken migration, got nil")
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		t.Fatalf("GetMigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 1 {
		t.Errorf("applied=%d pending=%d, want 2 and 1", len(applied), len(pending))
	}
}

// TestParseMigrationFilename verifies filename parsing.
func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{
			name:        "valid up migration",
			filename:    "20240101_000000_create_devices.up.sql",
			wantVersion: "20240101_000000",
			wantIsUp:    true,
			wantOk:      true,
		},
		{
			name:        "valid down migration",
			filename:    "20240101_000100_create_readings.down.sql",
			wantVersion: "20240101_000100",
			wantIsUp:    false,
			wantOk:      true,
		},
		{name: "not sql file", filename: "readme.txt", wantOk: false},
		{name: "missing direction", filename: "20240101_000000_create_devices.sql", wantOk: false},
		{name: "invalid format", filename: "invalid.up.sql", wantOk: false},
		{name: "short version", filename: "2024_00_x.up.sql", wantOk: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %v, want %v", version, tt.wantVersion)
			}
			if isUp != tt.wantIsUp {
				t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
			}
		})
	}
}

// TestExtractMigrationName verifies name extraction.
func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20240101_000000_create_devices.up.sql", "create_devices"},
		{"20240101_000100_create_readings.down.sql", "create_readings"},
		{"20240101_000000.up.sql", "20240101_000000"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
