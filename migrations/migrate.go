// Package migrations holds the versioned schema and applies it with golang-migrate
package migrations

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed *.sql
var files embed.FS

// Up applies every pending migration. An empty dir uses the embedded copy.
// It reports whether anything was applied.
func Up(databaseURL, dir string) (bool, error) {
	m, err := newMigrator(databaseURL, dir)
	if err != nil {
		return false, err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return false, nil
		}
		return false, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return true, nil
}

func newMigrator(databaseURL, dir string) (*migrate.Migrate, error) {
	if dir != "" {
		m, err := migrate.New("file://"+dir, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open migrations at %s: %w", dir, err)
		}
		return m, nil
	}

	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}
