package storage

import (
	"context"

	"github.com/slok/wxpipe/internal/model"
)

// ListRunsOpts are the options to list runs.
type ListRunsOpts struct {
	// State filters by run state when not empty.
	State model.State
	// Limit is the max number of runs returned, 0 means no limit.
	Limit int
}

// RunRepository is the interface for orchestrator run history persistence.
type RunRepository interface {
	CreateRun(ctx context.Context, r model.Run) error
	UpdateRun(ctx context.Context, r model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	// ListRuns returns the runs, newest first.
	ListRuns(ctx context.Context, opts ListRunsOpts) ([]model.Run, error)
}

// AttemptRepository is the interface for script attempt history persistence.
type AttemptRepository interface {
	// SaveAttempt creates or replaces an attempt.
	SaveAttempt(ctx context.Context, a model.Attempt) error
	// ListAttempts returns the attempts of a run in start order.
	ListAttempts(ctx context.Context, runID string) ([]model.Attempt, error)
}

// Repository is the full history persistence.
type Repository interface {
	RunRepository
	AttemptRepository
}
