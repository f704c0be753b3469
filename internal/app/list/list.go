package list

import (
	"context"
	"fmt"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
)

// ServiceConfig is the configuration for the list service.
type ServiceConfig struct {
	Repository storage.RunRepository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.list.Service"})

	return nil
}

// Service lists the recorded runs with optional filtering.
type Service struct {
	repo   storage.RunRepository
	logger log.Logger
}

// NewService creates a new list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the list request parameters.
type Request struct {
	// StateFilter is an optional filter to only show runs with this state.
	StateFilter *model.State
	// Limit is the max number of runs, 0 means all.
	Limit int
}

// Run lists the runs newest first.
func (s *Service) Run(ctx context.Context, req Request) ([]model.Run, error) {
	s.logger.Debugf("listing runs with filter: %v", req.StateFilter)

	if req.Limit < 0 {
		return nil, fmt.Errorf("limit can't be negative: %w", model.ErrNotValid)
	}

	opts := storage.ListRunsOpts{Limit: req.Limit}
	if req.StateFilter != nil {
		switch *req.StateFilter {
		case model.StateInProgress, model.StateSuccess, model.StateFailure, model.StateCancelled:
		default:
			return nil, fmt.Errorf("unknown state %q: %w", *req.StateFilter, model.ErrNotValid)
		}
		opts.State = *req.StateFilter
	}

	runs, err := s.repo.ListRuns(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("could not list runs: %w", err)
	}

	s.logger.Debugf("found %d runs", len(runs))
	return runs, nil
}
