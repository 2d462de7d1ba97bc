// Package database opens the SQLite file behind the sqlite storage backend
// and keeps its schema current.
//
// Connections go through mattn/go-sqlite3 with a busy timeout, foreign
// keys on and optional WAL journaling. Schema changes are forward-only
// *.up.sql files read from any fs.FS; each applied file is recorded with
// its SHA-256 so later edits to it are caught:
//
//	db, err := database.Open(ctx, database.Config{Path: path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx, migrations.FS)
package database
