// Package database provides SQL connectivity for the reading store.
//
// This package manages:
//   - SQLite connections (default) with WAL mode and a single writer
//   - PostgreSQL connections through lib/pq
//   - Placeholder rebinding so queries are written once with ?
//   - Embedded schema migrations shared by both drivers
//
// Security Considerations:
//   - All queries use parameterised statements (no SQL injection)
//   - SQLite database file permissions are set to 0600
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
