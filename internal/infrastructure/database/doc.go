// Package database provides the SQLite connection used for reading
// history and the task event log.
//
// Open creates the file and its directory, applies WAL mode and the busy
// timeout through the go-sqlite3 DSN, and pins the pool to a single
// connection. Migrate applies numbered .up.sql files from any fs.FS; the
// binary passes the embedded migrations package.
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
