package load

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/pipeline"
	"github.com/slok/wxpipe/internal/script"
	"github.com/slok/wxpipe/internal/storage"
)

type recorderConfig struct {
	RunID     string
	Pipelines []string
	Repo      storage.Repository
	Logger    log.Logger
	TimeNow   func() time.Time
}

// recorder is a pipeline observer that stores the run history. Storage errors never
// affect the run, they are logged.
type recorder struct {
	runID   string
	repo    storage.Repository
	logger  log.Logger
	timeNow func() time.Time

	mu      sync.Mutex
	run     model.Run
	pending map[string]pendingAttempt
}

type pendingAttempt struct {
	attempt model.Attempt
	status  *script.Status
}

func newRecorder(ctx context.Context, cfg recorderConfig) (*recorder, error) {
	run := model.Run{
		ID:        cfg.RunID,
		State:     model.StateInProgress,
		Pipelines: cfg.Pipelines,
		CreatedAt: cfg.TimeNow().UTC(),
	}
	if err := cfg.Repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("could not create run: %w", err)
	}

	return &recorder{
		runID:   cfg.RunID,
		repo:    cfg.Repo,
		logger:  cfg.Logger.WithValues(log.Kv{"svc": "app.load.recorder"}),
		timeNow: cfg.TimeNow,
		run:     run,
		pending: map[string]pendingAttempt{},
	}, nil
}

func (r *recorder) AttemptStarted(ctx context.Context, a pipeline.Attempt) {
	att := model.Attempt{
		ID:        a.Status.ID(),
		RunID:     r.runID,
		Pipeline:  a.Pipeline,
		Stage:     a.Stage.Name,
		Number:    a.Number,
		Script:    a.Status.Script(),
		ExitCode:  script.ExitCodeNotExited,
		StartedAt: r.timeNow().UTC(),
	}

	r.mu.Lock()
	r.pending[att.ID] = pendingAttempt{attempt: att, status: a.Status}
	r.mu.Unlock()

	r.save(ctx, att)
}

func (r *recorder) AttemptFinished(ctx context.Context, a pipeline.Attempt) {
	r.mu.Lock()
	p, ok := r.pending[a.Status.ID()]
	delete(r.pending, a.Status.ID())
	r.mu.Unlock()
	if !ok {
		return
	}

	r.save(ctx, r.finishedAttempt(p.attempt, a.Status.Snapshot()))
}

func (r *recorder) PipelineFinished(context.Context, string, model.State) {}

func (r *recorder) RunFinished(ctx context.Context, state model.State) {
	// Attempts aborted by a cancellation never finish, store their last known status.
	r.mu.Lock()
	pending := r.pending
	r.pending = map[string]pendingAttempt{}
	r.mu.Unlock()
	for _, p := range pending {
		r.save(ctx, r.finishedAttempt(p.attempt, p.status.Snapshot()))
	}

	now := r.timeNow().UTC()
	r.mu.Lock()
	r.run.State = state
	r.run.FinishedAt = &now
	run := r.run
	r.mu.Unlock()

	// The run context could be cancelled already, the history must be stored anyway.
	if err := r.repo.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warningf("Could not record run %s finish: %s", r.runID, err)
	}
}

func (r *recorder) finishedAttempt(att model.Attempt, snap script.Snapshot) model.Attempt {
	now := r.timeNow().UTC()
	att.Exited = snap.Exited
	att.ExitCode = snap.ExitCode
	att.Progress = snap.Progress
	att.LastProgressMessage = snap.LastProgressMessage
	att.LastOutputMessage = snap.LastOutputMessage
	att.LastErrorMessage = snap.LastErrorMessage
	att.FinishedAt = &now
	return att
}

func (r *recorder) save(ctx context.Context, att model.Attempt) {
	if err := r.repo.SaveAttempt(context.WithoutCancel(ctx), att); err != nil {
		r.logger.Warningf("Could not record attempt %s: %s", att.ID, err)
	}
}

var _ pipeline.Observer = &recorder{}
