package load

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/pipeline"
	"github.com/slok/wxpipe/internal/script"
	"github.com/slok/wxpipe/internal/storage"
	utilsenv "github.com/slok/wxpipe/internal/utils/env"
)

// RunnerFactory returns the script runner for an invocation.
type RunnerFactory func(inv model.Invocation, logger log.Logger) (script.Runner, error)

// LauncherRunnerFactory returns script launchers.
func LauncherRunnerFactory(inv model.Invocation, logger log.Logger) (script.Runner, error) {
	l, err := script.NewLauncher(script.LauncherConfig{
		Interpreter:    inv.Interpreter,
		UnbufferedFlag: inv.UnbufferedFlag,
		WorkingDir:     inv.WorkingDir,
		Env:            inv.Env,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ServiceConfig is the configuration for the load service.
type ServiceConfig struct {
	// Repository is optional, when missing runs are not recorded.
	Repository    storage.Repository
	RunnerFactory RunnerFactory
	Logger        log.Logger
	TimeNow       func() time.Time
}

func (c *ServiceConfig) defaults() error {
	if c.RunnerFactory == nil {
		c.RunnerFactory = LauncherRunnerFactory
	}

	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.load.Service"})

	return nil
}

// Service starts loading runs: all the configured pipelines running concurrently.
type Service struct {
	repo          storage.Repository
	runnerFactory RunnerFactory
	logger        log.Logger
	timeNow       func() time.Time
}

// NewService creates a new load service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		repo:          cfg.Repository,
		runnerFactory: cfg.RunnerFactory,
		logger:        cfg.Logger,
		timeNow:       cfg.TimeNow,
	}, nil
}

// Request represents the load request parameters.
type Request struct {
	Config model.LoadConfig
	// ExtraArgs are appended to the arguments of every stage (e.g the data timestamp).
	ExtraArgs string
	// Env is set over the configuration environment.
	Env map[string]string
	// Observer is optional, it's notified of the run events.
	Observer pipeline.Observer
}

// Run is a started loading run.
type Run struct {
	ID           string
	Orchestrator *pipeline.Orchestrator
}

// Start starts a loading run in the background. The run is cancelled when ctx is done,
// callers wait for it with the orchestrator.
func (s *Service) Start(ctx context.Context, req Request) (*Run, error) {
	cfg := req.Config
	cfg.Invocation.Env = utilsenv.MergeMaps(cfg.Invocation.Env, req.Env)
	cfg.Pipelines = withExtraArgs(cfg.Pipelines, req.ExtraArgs)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load config: %w", err)
	}

	runID := ulid.Make().String()
	logger := s.logger.WithValues(log.Kv{"run-id": runID})

	runner, err := s.runnerFactory(cfg.Invocation, logger)
	if err != nil {
		return nil, fmt.Errorf("could not create script runner: %w", err)
	}

	observers := []pipeline.Observer{}
	if s.repo != nil {
		rec, err := newRecorder(ctx, recorderConfig{
			RunID:     runID,
			Pipelines: pipelineNames(cfg.Pipelines),
			Repo:      s.repo,
			Logger:    logger,
			TimeNow:   s.timeNow,
		})
		if err != nil {
			return nil, fmt.Errorf("could not record run: %w", err)
		}
		observers = append(observers, rec)
	}
	if req.Observer != nil {
		observers = append(observers, req.Observer)
	}

	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Runner:    runner,
		Pipelines: cfg.Pipelines,
		Observer:  pipeline.NewMultiObserver(observers...),
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create orchestrator: %w", err)
	}

	if err := orch.Start(ctx); err != nil {
		return nil, fmt.Errorf("could not start run: %w", err)
	}

	logger.Infof("Run started")

	return &Run{ID: runID, Orchestrator: orch}, nil
}

func withExtraArgs(ps []model.PipelineSpec, extra string) []model.PipelineSpec {
	extra = strings.TrimSpace(extra)

	res := make([]model.PipelineSpec, 0, len(ps))
	for _, p := range ps {
		stages := make([]model.StageSpec, 0, len(p.Stages))
		for _, s := range p.Stages {
			if extra != "" {
				s.Args = strings.TrimSpace(s.Args + " " + extra)
			}
			stages = append(stages, s)
		}
		p.Stages = stages
		res = append(res, p)
	}

	return res
}

func pipelineNames(ps []model.PipelineSpec) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name)
	}
	return names
}
