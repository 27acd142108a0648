// Package database provides SQLite connectivity for the gateway.
//
// It manages the connection (WAL mode, busy timeout, single writer), embedded
// schema migrations and health checks. The gateway stores three things here:
// system properties (subsystem schema versions), the device registry with its
// discovery metadata, and the commissioning audit trail.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql. Each applies in its own
// transaction.
package database
