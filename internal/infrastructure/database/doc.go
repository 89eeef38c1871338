// Package database provides SQLite connectivity for MeterLink Core.
//
// This package manages:
//   - Database connection with WAL mode so range scans do not block ingestion
//   - Versioned schema migrations (embedded by the migrations package)
//   - Connection pool settings for SQLite's single-writer model
//   - An sqlx handle over the same pool for the reading store
//
// All queries use parameterised statements. The database file is chmod 0600.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
