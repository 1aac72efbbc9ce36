// Package db opens the embedded SQLite databases backing the memory and
// checkpoint stores and runs their goose migrations.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens the SQLite database at path, or an in-memory one when path
// is ":memory:". The returned handle has WAL journaling, foreign keys,
// and a single pooled connection; callers that hold a Rows cursor must
// drain it before issuing another query.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	// checkpoint_sessions relies on cascade deletes.
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// One writer; keeps the flat and indexed stores on the same rules.
	db.SetMaxOpenConns(1)

	return db, nil
}
