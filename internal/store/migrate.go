package store

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SchemaStatus describes the catalog schema relative to the embedded migrations
type SchemaStatus struct {
	Current uint // 0 when no migration has been applied
	Latest  uint
	Dirty   bool
}

// Pending reports whether migrations remain to be applied
func (s SchemaStatus) Pending() bool {
	return s.Current < s.Latest
}

// newMigrate builds a migrator over the open connection. The returned
// migrator must not be closed: closing it would close s.db.
func (s *Store) newMigrate() (*migrate.Migrate, source.Driver, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, src, nil
}

// Migrate applies all pending migrations
func (s *Store) Migrate() error {
	m, src, err := s.newMigrate()
	if err != nil {
		return err
	}
	defer src.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied and latest available schema versions
func (s *Store) SchemaVersion() (SchemaStatus, error) {
	m, src, err := s.newMigrate()
	if err != nil {
		return SchemaStatus{}, err
	}
	defer src.Close()

	var status SchemaStatus
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return SchemaStatus{}, fmt.Errorf("failed to read schema version: %w", err)
	default:
		status.Current, status.Dirty = version, dirty
	}

	latest, err := latestVersion(src)
	if err != nil {
		return SchemaStatus{}, err
	}
	status.Latest = latest
	return status, nil
}

func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("no migrations found: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read migrations: %w", err)
		}
		v = next
	}
}
