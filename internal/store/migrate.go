package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmoretti/filo/internal/store/migrations"
)

// MigrateResult reports where Migrate left the schema.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the mirror schema up to the latest embedded version. A
// dirty schema, left behind by a migration that died halfway, is refused;
// the operator decides whether to repair or recreate the mirror file.
func (db *DB) Migrate() (*MigrateResult, error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	if _, dirty, err := m.Version(); err != nil && err != migrate.ErrNilVersion {
		return nil, fmt.Errorf("migration version: %w", err)
	} else if dirty {
		return nil, errors.New("mirror schema is dirty, refusing to migrate")
	}

	changed := true
	switch err := m.Up(); err {
	case nil:
	case migrate.ErrNoChange:
		changed = false
	default:
		return nil, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("migration version: %w", err)
	}
	return &MigrateResult{Version: version, Dirty: dirty, Changed: changed}, nil
}
