package lib

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/wxpipe/internal/app/load"
	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/script"
	"github.com/slok/wxpipe/internal/storage"
)

// OrchestratorOpts are the optional settings of an orchestrator.
type OrchestratorOpts struct {
	// ExtraArgs are appended to the arguments of every stage (e.g a data timestamp).
	ExtraArgs string
	// Env is set over the client environment.
	Env map[string]string
	// DisableHistory doesn't record the run.
	DisableHistory bool
}

// Orchestrator runs pipelines concurrently. It runs once, create a new one for
// every run.
type Orchestrator struct {
	svc       *load.Service
	cfg       model.LoadConfig
	opts      OrchestratorOpts
	pipelines []string

	mu  sync.Mutex
	run *load.Run
}

// NewOrchestrator returns an orchestrator for the pipelines. Pass nil opts for defaults.
//
// Returns [ErrNotValid] if the pipelines are not valid.
func (c *Client) NewOrchestrator(pipelines []Pipeline, opts *OrchestratorOpts) (*Orchestrator, error) {
	if opts == nil {
		opts = &OrchestratorOpts{}
	}

	cfg := model.LoadConfig{
		Invocation: c.invocation,
		Pipelines:  toInternalPipelines(pipelines),
	}
	if err := cfg.Validate(); err != nil {
		return nil, mapError(fmt.Errorf("invalid pipelines: %w", err))
	}

	var repo storage.Repository
	if !opts.DisableHistory {
		repo = c.repo
	}

	svc, err := load.NewService(load.ServiceConfig{
		Repository: repo,
		RunnerFactory: func(inv model.Invocation, logger log.Logger) (script.Runner, error) {
			// The client launcher doesn't know the run environment.
			if len(opts.Env) > 0 {
				return load.LauncherRunnerFactory(inv, logger)
			}
			return c.launcher, nil
		},
		Logger: c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	names := make([]string, 0, len(pipelines))
	for _, p := range pipelines {
		names = append(names, p.Name)
	}

	return &Orchestrator{
		svc:       svc,
		cfg:       cfg,
		opts:      *opts,
		pipelines: names,
	}, nil
}

// Start starts all the pipelines in the background. When ctx is done the run is
// cancelled.
//
// Returns [ErrAlreadyExists] if the orchestrator was already started.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.run != nil {
		return mapError(fmt.Errorf("orchestrator already started: %w", model.ErrAlreadyExists))
	}

	run, err := o.svc.Start(ctx, load.Request{
		Config:    o.cfg,
		ExtraArgs: o.opts.ExtraArgs,
		Env:       o.opts.Env,
	})
	if err != nil {
		return mapError(err)
	}
	o.run = run

	return nil
}

func (o *Orchestrator) started() *load.Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run
}

// RunID returns the run ID, empty until the orchestrator is started.
func (o *Orchestrator) RunID() string {
	if r := o.started(); r != nil {
		return r.ID
	}
	return ""
}

// Pipelines returns the pipeline names in order.
func (o *Orchestrator) Pipelines() []string {
	return append([]string(nil), o.pipelines...)
}

// Cancel stops all the running scripts and finishes the run as cancelled. It's a no-op
// before starting or after the run finished.
func (o *Orchestrator) Cancel() {
	if r := o.started(); r != nil {
		r.Orchestrator.Cancel()
	}
}

// CurrentState returns the run state.
func (o *Orchestrator) CurrentState() State {
	if r := o.started(); r != nil {
		return State(r.Orchestrator.CurrentState())
	}
	return StateInProgress
}

// PipelineState returns the state of a pipeline.
//
// Returns [ErrNotFound] if the pipeline doesn't exist.
func (o *Orchestrator) PipelineState(name string) (State, error) {
	r := o.started()
	if r == nil {
		if !o.hasPipeline(name) {
			return "", mapError(fmt.Errorf("pipeline %q: %w", name, model.ErrNotFound))
		}
		return StateInProgress, nil
	}

	s, err := r.Orchestrator.PipelineState(name)
	if err != nil {
		return "", mapError(err)
	}
	return State(s), nil
}

// Progress returns the progress bar state of a pipeline.
//
// Returns [ErrNotFound] if the pipeline doesn't exist.
func (o *Orchestrator) Progress(name string) (ProgressState, error) {
	r := o.started()
	if r == nil {
		if !o.hasPipeline(name) {
			return ProgressState{}, mapError(fmt.Errorf("pipeline %q: %w", name, model.ErrNotFound))
		}
		return ProgressState{Kind: ProgressKindInProgress}, nil
	}

	bar, err := r.Orchestrator.Bar(name)
	if err != nil {
		return ProgressState{}, mapError(err)
	}
	return fromInternalProgressState(bar.Snapshot()), nil
}

// Wait blocks until the run state is terminal or ctx is done and returns the run state.
// A run fails as soon as one pipeline fails, other pipelines could still be running when
// Wait returns. Use [Orchestrator.Cancel] to stop them or [Orchestrator.WaitFinished].
//
// Returns [ErrNotValid] if the orchestrator was not started.
func (o *Orchestrator) Wait(ctx context.Context) (State, error) {
	r := o.started()
	if r == nil {
		return StateInProgress, mapError(fmt.Errorf("orchestrator not started: %w", model.ErrNotValid))
	}

	s, err := r.Orchestrator.Wait(ctx)
	return State(s), err
}

// WaitFinished blocks until every pipeline has returned and the run is recorded, or ctx
// is done, and returns the run state.
//
// Returns [ErrNotValid] if the orchestrator was not started.
func (o *Orchestrator) WaitFinished(ctx context.Context) (State, error) {
	r := o.started()
	if r == nil {
		return StateInProgress, mapError(fmt.Errorf("orchestrator not started: %w", model.ErrNotValid))
	}

	select {
	case <-r.Orchestrator.Done():
		return State(r.Orchestrator.CurrentState()), nil
	case <-ctx.Done():
		return State(r.Orchestrator.CurrentState()), ctx.Err()
	}
}

func (o *Orchestrator) hasPipeline(name string) bool {
	for _, p := range o.pipelines {
		if p == name {
			return true
		}
	}
	return false
}
