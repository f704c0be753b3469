package lib

import (
	"context"
	"fmt"

	"github.com/slok/wxpipe/internal/app/list"
	"github.com/slok/wxpipe/internal/app/status"
	"github.com/slok/wxpipe/internal/model"
)

// ListRuns returns the recorded runs, newest first. Pass nil opts for defaults.
//
// Returns [ErrNotValid] on an unknown state filter or a negative limit.
func (c *Client) ListRuns(ctx context.Context, opts *ListRunsOpts) ([]Run, error) {
	if opts == nil {
		opts = &ListRunsOpts{}
	}

	svc, err := list.NewService(list.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	var stateFilter *model.State
	if opts.State != nil {
		s := model.State(*opts.State)
		stateFilter = &s
	}

	runs, err := svc.Run(ctx, list.Request{
		StateFilter: stateFilter,
		Limit:       opts.Limit,
	})
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalRunList(runs), nil
}

// GetRun returns a recorded run with all its attempts, use "latest" for the last run.
//
// Returns [ErrNotFound] if the run doesn't exist.
func (c *Client) GetRun(ctx context.Context, runID string) (*RunStatus, error) {
	svc, err := status.NewService(status.ServiceConfig{
		Repository: c.repo,
		Logger:     c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, status.Request{RunID: runID})
	if err != nil {
		return nil, mapError(err)
	}

	result := &RunStatus{
		Run:      fromInternalRun(resp.Run),
		Attempts: make([]Attempt, 0, len(resp.Attempts)),
	}
	for _, a := range resp.Attempts {
		result.Attempts = append(result.Attempts, fromInternalAttempt(a))
	}

	return result, nil
}
