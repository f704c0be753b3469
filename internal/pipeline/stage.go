package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/progress"
	"github.com/slok/wxpipe/internal/script"
)

// RetryingText is the status shown on the progress sink between two attempts.
const RetryingText = "Retrying..."

// ProgressSink receives the statuses of a stage, progress bars satisfy it.
type ProgressSink interface {
	StartStage(start, end float64, sources ...progress.Source)
	OverrideStatus(text string, kind progress.Kind)
}

type noopSink struct{}

func (noopSink) StartStage(float64, float64, ...progress.Source) {}
func (noopSink) OverrideStatus(string, progress.Kind)            {}

// StageConfig is the configuration to run a stage.
type StageConfig struct {
	Spec   model.StageSpec
	Runner script.Runner
	// Sink is optional.
	Sink ProgressSink
	// OnAttemptStarted is called right after an attempt is launched.
	OnAttemptStarted func(number int, st *script.Status)
	// OnAttemptFinished is called once the attempt process exited, it's not called for
	// attempts aborted by a cancellation.
	OnAttemptFinished func(number int, st *script.Status)
	Logger            log.Logger
}

func (c *StageConfig) defaults() error {
	if err := c.Spec.Validate(); err != nil {
		return err
	}

	if c.Runner == nil {
		return fmt.Errorf("runner is required")
	}

	if c.Sink == nil {
		c.Sink = noopSink{}
	}

	if c.OnAttemptStarted == nil {
		c.OnAttemptStarted = func(int, *script.Status) {}
	}

	if c.OnAttemptFinished == nil {
		c.OnAttemptFinished = func(int, *script.Status) {}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "pipeline.Stage", "stage": c.Spec.Name})

	return nil
}

// StageResult is the result of running a stage.
type StageResult struct {
	// Attempts are the launched attempts in order.
	Attempts []*script.Status
	// Success is true when an attempt exited with code 0.
	Success bool
	// Cancelled is true when the stage was aborted before success or exhausting its attempts.
	Cancelled bool
	Start     float64
	End       float64
}

// RunStage runs the stage script until an attempt exits with code 0 or the attempt budget
// is exhausted, waiting the retry delay between attempts. Script failures are reported
// in the result, errors are only returned for invalid configuration.
//
// When ctx is done the stage is aborted at any wait point and the result is cancelled.
func RunStage(ctx context.Context, cfg StageConfig) (*StageResult, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	spec := cfg.Spec
	logger := cfg.Logger
	res := &StageResult{Start: spec.Start, End: spec.End}

	for n := 1; n <= spec.MaxAttempts; n++ {
		if ctx.Err() != nil {
			res.Cancelled = true
			return res, nil
		}

		logger.Debugf("Starting attempt %d/%d of %s", n, spec.MaxAttempts, spec.Script)
		st := cfg.Runner.RunScript(ctx, spec.Script, spec.Args)
		res.Attempts = append(res.Attempts, st)
		cfg.OnAttemptStarted(n, st)
		cfg.Sink.StartStage(spec.Start, spec.End, st)

		if !waitExit(ctx, st) {
			res.Cancelled = true
			return res, nil
		}
		cfg.OnAttemptFinished(n, st)

		code := st.ExitCode()
		if code == 0 {
			logger.Debugf("Attempt %d succeeded", n)
			res.Success = true
			return res, nil
		}

		if n == spec.MaxAttempts {
			logger.Warningf("Attempt %d/%d failed with exit code %d, no attempts left", n, spec.MaxAttempts, code)
			break
		}

		logger.Warningf("Attempt %d/%d failed with exit code %d, retrying in %s", n, spec.MaxAttempts, code, spec.RetryDelay)
		cfg.Sink.OverrideStatus(RetryingText, progress.KindFailure)
		if !sleep(ctx, spec.RetryDelay) {
			res.Cancelled = true
			return res, nil
		}
	}

	return res, nil
}

// waitExit waits until the status finishes, if it finished by reporting full progress
// it also waits for the process exit so the exit code is set. Returns false if ctx is
// done, cancellation wins over an exit observed at the same time.
func waitExit(ctx context.Context, st *script.Status) bool {
	select {
	case <-st.Done():
	case <-ctx.Done():
		return false
	}

	select {
	case <-st.Exited():
	case <-ctx.Done():
	}

	return ctx.Err() == nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
