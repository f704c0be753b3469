package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
	"github.com/slok/wxpipe/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository opens (or creates) the history database and migrates its schema.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}
	version, _, err := migrator.Version(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not get schema version: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s (schema v%d)", cfg.DBPath, version)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// CreateRun creates a new run.
func (r *Repository) CreateRun(ctx context.Context, run model.Run) error {
	pipelines, err := json.Marshal(nonNil(run.Pipelines))
	if err != nil {
		return fmt.Errorf("could not marshal pipelines: %w", err)
	}

	query := `
		INSERT INTO runs (id, state, pipelines, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.State,
		string(pipelines),
		run.CreatedAt.UnixMilli(),
		unixMilliOrNil(run.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.") {
			return fmt.Errorf("run %s: %w", run.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert run: %w", err)
	}

	r.logger.Debugf("Created run in repository: %s", run.ID)
	return nil
}

// UpdateRun updates the state and finish time of an existing run.
func (r *Repository) UpdateRun(ctx context.Context, run model.Run) error {
	query := `UPDATE runs SET state = ?, finished_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, run.State, unixMilliOrNil(run.FinishedAt), run.ID)
	if err != nil {
		return fmt.Errorf("could not update run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	r.logger.Debugf("Updated run in repository: %s", run.ID)
	return nil
}

// GetRun retrieves a run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := `
		SELECT id, state, pipelines, created_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query run: %w", err)
	}

	return &run, nil
}

// ListRuns returns the runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, opts storage.ListRunsOpts) ([]model.Run, error) {
	query := `SELECT id, state, pipelines, created_at, finished_at FROM runs`
	args := []any{}
	if opts.State != "" {
		query += ` WHERE state = ?`
		args = append(args, opts.State)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var run model.Run
	var pipelines string
	var createdAt int64
	var finishedAt sql.NullInt64

	err := s.Scan(&run.ID, &run.State, &pipelines, &createdAt, &finishedAt)
	if err != nil {
		return model.Run{}, err
	}

	if err := json.Unmarshal([]byte(pipelines), &run.Pipelines); err != nil {
		return model.Run{}, fmt.Errorf("could not unmarshal pipelines: %w", err)
	}
	run.CreatedAt = timeFromUnixMilli(createdAt)
	run.FinishedAt = timePtrFromNull(finishedAt)

	return run, nil
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func unixMilliOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.UnixMilli()
	return &u
}

func timePtrFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := timeFromUnixMilli(n.Int64)
	return &t
}

func timeFromUnixMilli(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

var _ storage.Repository = &Repository{}
