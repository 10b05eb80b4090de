package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/matheus3301/msgdb/internal/store/migrations"
)

// MigrateResult is the schema state found and left by a migration run.
type MigrateResult struct {
	From    uint `json:"from"` // 0 for a new database
	Version uint `json:"version"`
	Changed bool `json:"changed"`
}

// Migrate brings the schema up to the newest embedded version. Open runs it
// before returning the handle; a repeated call reports Changed=false.
// A schema left dirty by an interrupted upgrade is a consistency error.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.schemaMigrator()
	if err != nil {
		return nil, err
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, &ConsistencyError{Op: "migrate", Detail: fmt.Sprintf("schema version %d is dirty", from)}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("apply schema versions: %w", err)
	}
	to, _, err := m.Version()
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	res := &MigrateResult{From: from, Version: to, Changed: to != from}
	if res.Changed {
		db.logger.Info("schema upgraded", zap.Uint("from", from), zap.Uint("version", to))
	}
	db.schema = res
	return res, nil
}

// Schema returns the result of the migration run at open time.
func (db *DB) Schema() *MigrateResult { return db.schema }

func (db *DB) schemaMigrator() (*migrate.Migrate, error) {
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
	return m, nil
}
