// Package database owns the schema: embedded migrations and the startup
// version check.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // postgres driver for database/sql
)

// SchemaVersion is the migration version this build expects.
const SchemaVersion uint = 2

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrSchemaDirty    = errors.New("database schema is dirty")
	ErrSchemaMismatch = errors.New("database schema version mismatch")
	ErrSchemaMissing  = errors.New("database schema not initialized")
)

// Open opens a database/sql handle backed by lib/pq and verifies it.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate applies all pending up migrations. It opens and closes its own
// connection because the migrate driver closes the handle it wraps.
func Migrate(ctx context.Context, databaseURL string, logger *slog.Logger) error {
	db, err := Open(ctx, databaseURL)
	if err != nil {
		return err
	}

	m, err := newMigrator(db)
	if err != nil {
		db.Close()
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	if logger != nil {
		logger.Info("database schema is up to date", "version", SchemaVersion)
	}
	return nil
}

// RequireVersion fails unless the database is exactly at SchemaVersion
// and not dirty.
func RequireVersion(db *sql.DB) error {
	version, dirty, err := currentVersion(db)
	if err != nil {
		return err
	}
	return checkVersion(version, dirty)
}

func checkVersion(version uint, dirty bool) error {
	if dirty {
		return fmt.Errorf("%w: version %d", ErrSchemaDirty, version)
	}
	if version != SchemaVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, version, SchemaVersion)
	}
	return nil
}

// currentVersion reads the migrate bookkeeping table directly so the
// caller's handle stays open.
func currentVersion(db *sql.DB) (uint, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := db.QueryRow(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isUndefinedTable(err) {
			return 0, false, ErrSchemaMissing
		}
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return uint(version), dirty, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

// MigrationSQL returns the raw SQL of an embedded migration file.
func MigrationSQL(name string) (string, error) {
	data, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", name, err)
	}
	return string(data), nil
}
