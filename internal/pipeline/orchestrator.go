package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/progress"
	"github.com/slok/wxpipe/internal/script"
)

// Attempt identifies one launched attempt of a pipeline stage.
type Attempt struct {
	Pipeline string
	Stage    model.StageSpec
	Number   int
	Status   *script.Status
}

// Observer is notified of the orchestrator run events. The calls are made from the
// pipeline goroutines, implementations must be safe for concurrent use.
type Observer interface {
	AttemptStarted(ctx context.Context, a Attempt)
	AttemptFinished(ctx context.Context, a Attempt)
	PipelineFinished(ctx context.Context, pipeline string, state model.State)
	RunFinished(ctx context.Context, state model.State)
}

// NoopObserver is an observer that doesn't do anything.
const NoopObserver = noopObserver(0)

type noopObserver int

func (noopObserver) AttemptStarted(context.Context, Attempt)                {}
func (noopObserver) AttemptFinished(context.Context, Attempt)               {}
func (noopObserver) PipelineFinished(context.Context, string, model.State) {}
func (noopObserver) RunFinished(context.Context, model.State)              {}

// OrchestratorConfig is the orchestrator configuration.
type OrchestratorConfig struct {
	Runner    script.Runner
	Pipelines []model.PipelineSpec
	// Observer is optional.
	Observer Observer
	Logger   log.Logger
}

func (c *OrchestratorConfig) defaults() error {
	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline is required")
	}

	names := map[string]struct{}{}
	for _, p := range c.Pipelines {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicated pipeline %q: %w", p.Name, model.ErrNotValid)
		}
		names[p.Name] = struct{}{}
	}

	if c.Observer == nil {
		c.Observer = NoopObserver
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pipeline.Orchestrator"})

	return nil
}

// Orchestrator runs independent pipelines concurrently and aggregates their state. The
// run fails as soon as one pipeline fails, the rest of the pipelines keep running.
//
// An orchestrator runs once, create a new one for every run.
type Orchestrator struct {
	runner    script.Runner
	pipelines []model.PipelineSpec
	observer  Observer
	logger    log.Logger
	registry  *script.Registry
	bars      map[string]*progress.Bar

	mu             sync.Mutex
	state          model.State
	pipelineStates map[string]model.State
	started        bool
	cancelled      bool
	finished       bool
	cancel         context.CancelFunc
	terminal       chan struct{}
	terminalClosed bool
	done           chan struct{}
}

// NewOrchestrator returns a new orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	bars := map[string]*progress.Bar{}
	states := map[string]model.State{}
	for _, p := range cfg.Pipelines {
		bars[p.Name] = progress.NewBar()
		states[p.Name] = model.StateInProgress
	}

	return &Orchestrator{
		runner:         cfg.Runner,
		pipelines:      cfg.Pipelines,
		observer:       cfg.Observer,
		logger:         cfg.Logger,
		registry:       script.NewRegistry(),
		bars:           bars,
		state:          model.StateInProgress,
		pipelineStates: states,
		terminal:       make(chan struct{}),
		done:           make(chan struct{}),
	}, nil
}

// Start starts all the pipelines in the background. When ctx is done the run is
// cancelled like calling Cancel.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started: %w", model.ErrAlreadyExists)
	}
	o.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.cancel = cancel
	o.mu.Unlock()

	stop := context.AfterFunc(ctx, o.Cancel)

	o.logger.Infof("Starting %d pipelines", len(o.pipelines))

	// Failures are states, not errors, so a failing pipeline never stops its siblings.
	var g errgroup.Group
	for _, p := range o.pipelines {
		g.Go(func() error {
			o.runPipeline(runCtx, p)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		stop()
		o.finish(runCtx)
	}()

	return nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, p model.PipelineSpec) {
	logger := o.logger.WithValues(log.Kv{"pipeline": p.Name})
	bar := o.bars[p.Name]

	for _, stage := range p.Stages {
		res, err := RunStage(ctx, StageConfig{
			Spec:   stage,
			Runner: o.runner,
			Sink:   bar,
			OnAttemptStarted: func(n int, st *script.Status) {
				o.attemptStarted(ctx, Attempt{Pipeline: p.Name, Stage: stage, Number: n, Status: st})
			},
			OnAttemptFinished: func(n int, st *script.Status) {
				o.attemptFinished(ctx, Attempt{Pipeline: p.Name, Stage: stage, Number: n, Status: st})
			},
			Logger: logger,
		})
		if err != nil {
			logger.Errorf("Could not run stage %q: %s", stage.Name, err)
			bar.OverrideStatus(stage.FailureText(), progress.KindFailure)
			o.pipelineFinished(ctx, p.Name, model.StateFailure)
			return
		}

		if res.Cancelled {
			logger.Debugf("Stage %q cancelled", stage.Name)
			return
		}

		if !res.Success {
			logger.Warningf("Stage %q failed after %d attempts", stage.Name, len(res.Attempts))
			bar.OverrideStatus(stage.FailureText(), progress.KindFailure)
			o.pipelineFinished(ctx, p.Name, model.StateFailure)
			return
		}
	}

	o.pipelineFinished(ctx, p.Name, model.StateSuccess)
}

func (o *Orchestrator) attemptStarted(ctx context.Context, a Attempt) {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		a.Status.ClearHooks()
		a.Status.Exit()
		return
	}
	o.registry.Add(a.Status)
	o.mu.Unlock()

	o.observer.AttemptStarted(ctx, a)
}

func (o *Orchestrator) attemptFinished(ctx context.Context, a Attempt) {
	o.registry.Remove(a.Status)

	if o.isCancelled() {
		return
	}
	o.observer.AttemptFinished(ctx, a)
}

func (o *Orchestrator) pipelineFinished(ctx context.Context, name string, state model.State) {
	o.mu.Lock()
	if o.cancelled {
		o.mu.Unlock()
		return
	}

	o.pipelineStates[name] = state
	switch {
	case state == model.StateFailure:
		o.state = model.StateFailure
	case o.state == model.StateInProgress && o.allSucceeded():
		o.state = model.StateSuccess
	}
	if o.state.IsTerminal() {
		o.closeTerminal()
	}
	o.mu.Unlock()

	o.logger.Infof("Pipeline %q finished with %s", name, state)
	o.observer.PipelineFinished(ctx, name, state)
}

// allSucceeded must be called with the lock held.
func (o *Orchestrator) allSucceeded() bool {
	for _, s := range o.pipelineStates {
		if s != model.StateSuccess {
			return false
		}
	}
	return true
}

func (o *Orchestrator) finish(ctx context.Context) {
	o.mu.Lock()
	o.finished = true
	o.closeTerminal()
	state := o.state
	o.mu.Unlock()

	o.logger.Infof("Run finished with %s", state)
	o.observer.RunFinished(ctx, state)
	close(o.done)
}

// Cancel aborts the run: every running script is asked to exit without firing more
// hooks, the pipelines are set back to in progress and the run state is cancelled.
// A run that already has a terminal state (e.g failed while other pipelines were still
// running) keeps it and its pipeline states, only the remaining scripts are stopped.
// Cancelling a run that isn't running is a no-op.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	if !o.started || o.cancelled || o.finished {
		o.mu.Unlock()
		return
	}
	o.cancelled = true
	if !o.state.IsTerminal() {
		o.state = model.StateCancelled
		for name := range o.pipelineStates {
			o.pipelineStates[name] = model.StateInProgress
		}
	}
	o.closeTerminal()
	cancel := o.cancel
	o.mu.Unlock()

	o.logger.Infof("Cancelling run")

	// Hooks are cleared before the stages are unblocked so no callback fires after Cancel.
	for _, st := range o.registry.Drain() {
		st.ClearHooks()
		st.Exit()
	}
	cancel()
}

// closeTerminal must be called with the lock held.
func (o *Orchestrator) closeTerminal() {
	if o.terminalClosed {
		return
	}
	o.terminalClosed = true
	close(o.terminal)
}

func (o *Orchestrator) isCancelled() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelled
}

// CurrentState returns the run state.
func (o *Orchestrator) CurrentState() model.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// PipelineState returns the state of a pipeline.
func (o *Orchestrator) PipelineState(name string) (model.State, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s, ok := o.pipelineStates[name]
	if !ok {
		return "", fmt.Errorf("pipeline %q: %w", name, model.ErrNotFound)
	}
	return s, nil
}

// Pipelines returns the pipeline names in order.
func (o *Orchestrator) Pipelines() []string {
	names := make([]string, 0, len(o.pipelines))
	for _, p := range o.pipelines {
		names = append(names, p.Name)
	}
	return names
}

// Bar returns the progress bar of a pipeline.
func (o *Orchestrator) Bar(name string) (*progress.Bar, error) {
	b, ok := o.bars[name]
	if !ok {
		return nil, fmt.Errorf("pipeline %q: %w", name, model.ErrNotFound)
	}
	return b, nil
}

// ActiveStatuses returns the statuses of the running attempts.
func (o *Orchestrator) ActiveStatuses() []*script.Status {
	return o.registry.List()
}

// Terminal returns a channel that is closed the first time the run state becomes
// terminal. Pipelines could still be running, see Done.
func (o *Orchestrator) Terminal() <-chan struct{} { return o.terminal }

// Done returns a channel that is closed when the run has finished, including the
// pipelines that were still running when the run state was decided.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Wait blocks until the run state is terminal or ctx is done and returns the run state.
// The state doesn't change once it's terminal, but the observers could still be
// receiving events of the remaining pipelines until Done is closed.
func (o *Orchestrator) Wait(ctx context.Context) (model.State, error) {
	select {
	case <-o.terminal:
		return o.CurrentState(), nil
	case <-ctx.Done():
		return o.CurrentState(), ctx.Err()
	}
}

type multiObserver []Observer

// NewMultiObserver returns an observer that notifies all the observers in order.
func NewMultiObserver(obs ...Observer) Observer {
	return multiObserver(obs)
}

func (m multiObserver) AttemptStarted(ctx context.Context, a Attempt) {
	for _, o := range m {
		o.AttemptStarted(ctx, a)
	}
}

func (m multiObserver) AttemptFinished(ctx context.Context, a Attempt) {
	for _, o := range m {
		o.AttemptFinished(ctx, a)
	}
}

func (m multiObserver) PipelineFinished(ctx context.Context, pipeline string, state model.State) {
	for _, o := range m {
		o.PipelineFinished(ctx, pipeline, state)
	}
}

func (m multiObserver) RunFinished(ctx context.Context, state model.State) {
	for _, o := range m {
		o.RunFinished(ctx, state)
	}
}
