package database

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog/log"
)

// Migrator applies the schema from either an embedded filesystem or a directory
type Migrator struct {
	m *migrate.Migrate
}

// NewMigrator builds a migrator. When dir is empty the embedded files are used.
func NewMigrator(databaseURL string, embedded fs.FS, dir string) (*Migrator, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	if dir != "" {
		m, err = migrate.New(fmt.Sprintf("file://%s", dir), databaseURL)
	} else {
		d, srcErr := iofs.New(embedded, ".")
		if srcErr != nil {
			return nil, fmt.Errorf("failed to create migration source: %w", srcErr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", d, databaseURL)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return &Migrator{m: m}, nil
}

// Close releases the source and database handles
func (mg *Migrator) Close() error {
	srcErr, dbErr := mg.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Up applies all pending migrations
func (mg *Migrator) Up() error {
	if err := mg.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	log.Info().
		Uint("version", version).
		Bool("dirty", dirty).
		Msg("Database migration completed")
	return nil
}

// Down rolls back the given number of migrations; zero or less rolls back all of them
func (mg *Migrator) Down(steps int) error {
	var err error
	if steps <= 0 {
		err = mg.m.Down()
	} else {
		err = mg.m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}
	log.Info().Int("steps", steps).Msg("Database migration rolled back")
	return nil
}

// Version returns the current migration version; zero means none applied
func (mg *Migrator) Version() (uint, bool, error) {
	version, dirty, err := mg.m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// RunMigrations applies all pending migrations in one call
func RunMigrations(databaseURL string, embedded fs.FS, dir string) error {
	mg, err := NewMigrator(databaseURL, embedded, dir)
	if err != nil {
		return err
	}
	defer mg.Close()
	return mg.Up()
}
