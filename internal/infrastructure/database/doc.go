// Package database provides the gateway's SQLite storage.
//
// This package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - A single-connection pool matching SQLite's single writer
//   - Additive schema migrations read from an fs.FS
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_name.up.sql with an optional
// matching .down.sql. New columns must be nullable or carry a default.
package database
