package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// The mirror database has one writer, the ingestion engine; gateway reads
// race it. WAL plus a busy timeout keeps both sides from seeing
// SQLITE_BUSY under normal load.
const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB wraps a SQLite database connection for the profile-owned mirror.db.
type DB struct {
	*sql.DB
}

// Execer is the write surface shared by *sql.DB and *sql.Tx. The upsert
// helpers take it so a caller batching several writes can run them inside
// one transaction.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Open opens the mirror database at path, creating the file on first run,
// and verifies the connection before returning it.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return nil, fmt.Errorf("open mirror db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mirror db: %w", err)
	}
	return &DB{db}, nil
}
