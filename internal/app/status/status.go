package status

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
)

// LatestRunID is the run ID alias of the newest run.
const LatestRunID = "latest"

// ServiceConfig is the configuration for the status service.
type ServiceConfig struct {
	Repository storage.Repository
	Logger     log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.status.Service"})

	return nil
}

// Service retrieves the detailed status of a recorded run.
type Service struct {
	repo   storage.Repository
	logger log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// RunID is the run ID to query, or LatestRunID.
	RunID string
}

// Response is a run with its attempts in start order.
type Response struct {
	Run      model.Run
	Attempts []model.Attempt
}

// Run retrieves the status of a run.
func (s *Service) Run(ctx context.Context, req Request) (*Response, error) {
	s.logger.Debugf("getting status for run: %s", req.RunID)

	id := strings.TrimSpace(req.RunID)
	switch {
	case id == "":
		return nil, fmt.Errorf("run id is required: %w", model.ErrNotValid)
	case id == LatestRunID:
		runs, err := s.repo.ListRuns(ctx, storage.ListRunsOpts{Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("could not list runs: %w", err)
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("no runs recorded: %w", model.ErrNotFound)
		}
		id = runs[0].ID
	case !looksLikeULID(strings.ToUpper(id)):
		return nil, fmt.Errorf("run id %q is not a valid ID: %w", id, model.ErrNotValid)
	default:
		id = strings.ToUpper(id)
	}

	run, err := s.repo.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("run not found: %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get run: %w", err)
	}

	attempts, err := s.repo.ListAttempts(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("could not list attempts: %w", err)
	}

	return &Response{Run: *run, Attempts: attempts}, nil
}

// looksLikeULID checks if a string looks like a ULID (26 characters, alphanumeric uppercase).
func looksLikeULID(s string) bool {
	if len(s) != 26 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}
