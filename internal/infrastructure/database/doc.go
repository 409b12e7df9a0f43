// Package database provides the SQLite connection behind persisted jobs.
//
// It opens the database with WAL mode and a busy timeout, and applies
// versioned migrations read from an fs.FS (normally the embedded
// migrations package).
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
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql.
package database
