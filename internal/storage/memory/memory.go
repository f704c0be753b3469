package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	runs     map[string]model.Run
	attempts map[string][]model.Attempt
	mu       sync.RWMutex
	logger   log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		runs:     make(map[string]model.Run),
		attempts: make(map[string][]model.Attempt),
		logger:   cfg.Logger,
	}, nil
}

// CreateRun creates a new run.
func (r *Repository) CreateRun(ctx context.Context, run model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrAlreadyExists)
	}

	r.runs[run.ID] = copyRun(run)
	r.logger.Debugf("Created run in repository: %s", run.ID)

	return nil
}

// UpdateRun updates the state and finish time of an existing run.
func (r *Repository) UpdateRun(ctx context.Context, run model.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.runs[run.ID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.ID, model.ErrNotFound)
	}

	stored.State = run.State
	stored.FinishedAt = copyTime(run)
	r.runs[run.ID] = stored
	r.logger.Debugf("Updated run in repository: %s", run.ID)

	return nil
}

// GetRun retrieves a run by ID.
func (r *Repository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", id, model.ErrNotFound)
	}

	c := copyRun(run)
	return &c, nil
}

// ListRuns returns the runs, newest first.
func (r *Repository) ListRuns(ctx context.Context, opts storage.ListRunsOpts) ([]model.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := []model.Run{}
	for _, run := range r.runs {
		if opts.State != "" && run.State != opts.State {
			continue
		}
		runs = append(runs, copyRun(run))
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID > runs[j].ID
	})

	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}

	return runs, nil
}

// SaveAttempt creates or replaces an attempt. The run must exist.
func (r *Repository) SaveAttempt(ctx context.Context, a model.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[a.RunID]; !ok {
		return fmt.Errorf("run %s: %w", a.RunID, model.ErrNotFound)
	}

	if a.FinishedAt != nil {
		t := *a.FinishedAt
		a.FinishedAt = &t
	}

	attempts := r.attempts[a.RunID]
	for i, existing := range attempts {
		if existing.ID == a.ID {
			// Only the result fields change, the identity ones are kept.
			existing.Exited = a.Exited
			existing.ExitCode = a.ExitCode
			existing.Progress = a.Progress
			existing.LastProgressMessage = a.LastProgressMessage
			existing.LastOutputMessage = a.LastOutputMessage
			existing.LastErrorMessage = a.LastErrorMessage
			existing.FinishedAt = a.FinishedAt
			attempts[i] = existing
			r.logger.Debugf("Saved attempt %s (run %s)", a.ID, a.RunID)
			return nil
		}
	}

	r.attempts[a.RunID] = append(attempts, a)
	r.logger.Debugf("Saved attempt %s (run %s)", a.ID, a.RunID)

	return nil
}

// ListAttempts returns the attempts of a run in start order.
func (r *Repository) ListAttempts(ctx context.Context, runID string) ([]model.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := append([]model.Attempt{}, r.attempts[runID]...)
	sort.SliceStable(attempts, func(i, j int) bool {
		if !attempts[i].StartedAt.Equal(attempts[j].StartedAt) {
			return attempts[i].StartedAt.Before(attempts[j].StartedAt)
		}
		return attempts[i].ID < attempts[j].ID
	})

	return attempts, nil
}

func copyRun(run model.Run) model.Run {
	run.Pipelines = append([]string{}, run.Pipelines...)
	run.FinishedAt = copyTime(run)
	return run
}

func copyTime(run model.Run) *time.Time {
	if run.FinishedAt == nil {
		return nil
	}
	t := *run.FinishedAt
	return &t
}

var _ storage.Repository = &Repository{}
