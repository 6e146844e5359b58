// Package database manages the monomed SQLite store.
//
// It opens the database with sensible pragmas (WAL, busy timeout,
// foreign keys), exposes a health check and applies versioned SQL
// migrations read from an fs.FS. The schema itself lives in the
// top-level migrations package and is embedded into the binary.
//
// # Migration files
//
// Files are named YYYYMMDD_HHMMSS_description.up.sql with an optional
// matching .down.sql. Applied versions are recorded in schema_migrations;
// each migration runs in its own transaction.
//
// # Usage
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
