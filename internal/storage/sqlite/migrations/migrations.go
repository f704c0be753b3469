package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/wxpipe/internal/log"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded history schema migrations on a SQLite database.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator returns a new migrator for db.
func NewMigrator(db *sql.DB, logger log.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	return &Migrator{
		db:     db,
		logger: logger.WithValues(log.Kv{"svc": "sqlite.Migrator"}),
	}, nil
}

// Up migrates the schema to the latest version.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "migrate up", func(inst *migrate.Migrate) error { return inst.Up() })
}

// Down removes the whole schema.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "migrate down", func(inst *migrate.Migrate) error { return inst.Down() })
}

// Version returns the current schema version, ok is false when no migration was applied.
func (m *Migrator) Version(ctx context.Context) (version uint, ok bool, err error) {
	err = m.run(ctx, "get version", func(inst *migrate.Migrate) error {
		v, dirty, err := inst.Version()
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("schema version %d is dirty", v)
		}
		version, ok = v, true
		return nil
	})
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}

	return version, ok, err
}

func (m *Migrator) run(ctx context.Context, op string, f func(*migrate.Migrate) error) error {
	inst, closeSrc, err := m.instance()
	defer closeSrc()
	if err != nil {
		return err
	}

	err = f(inst)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Debugf("Schema %s: no change", op)
	case err != nil:
		return fmt.Errorf("could not %s: %w", op, err)
	default:
		m.logger.Debugf("Schema %s done", op)
	}

	return nil
}

func (m *Migrator) instance() (instance *migrate.Migrate, closeSrc func(), err error) {
	closeSrc = func() {}

	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		return nil, closeSrc, fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, closeSrc, fmt.Errorf("could not create fs: %w", err)
	}
	closeSrc = func() {
		if err := src.Close(); err != nil {
			m.logger.Errorf("could not close fs: %s", err)
		}
	}

	instance, err = migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, closeSrc, fmt.Errorf("could not create migration instance: %w", err)
	}

	return instance, closeSrc, nil
}
