package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/pipeline"
	"github.com/slok/wxpipe/internal/progress"
	"github.com/slok/wxpipe/internal/script"
	"github.com/slok/wxpipe/internal/script/scriptfake"
)

const waitTimeout = 5 * time.Second

type observerRecorder struct {
	mu     sync.Mutex
	events []string
}

func (o *observerRecorder) add(e string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

func (o *observerRecorder) AttemptStarted(_ context.Context, a pipeline.Attempt) {
	o.add(fmt.Sprintf("started %s/%s#%d", a.Pipeline, a.Stage.Name, a.Number))
}

func (o *observerRecorder) AttemptFinished(_ context.Context, a pipeline.Attempt) {
	o.add(fmt.Sprintf("finished %s/%s#%d:%d", a.Pipeline, a.Stage.Name, a.Number, a.Status.ExitCode()))
}

func (o *observerRecorder) PipelineFinished(_ context.Context, name string, state model.State) {
	o.add(fmt.Sprintf("pipeline %s:%s", name, state))
}

func (o *observerRecorder) RunFinished(_ context.Context, state model.State) {
	o.add(fmt.Sprintf("run:%s", state))
}

func (o *observerRecorder) Events() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// testPipelines returns a radar pipeline (single retrying stage) and a clouds pipeline
// (retrying download and single attempt processing).
func testPipelines() []model.PipelineSpec {
	return []model.PipelineSpec{
		{
			Name: "radar",
			Stages: []model.StageSpec{
				{Name: "process", Script: "radar.py", Start: 0, End: 1, MaxAttempts: 3, RetryDelay: time.Millisecond, FailureMessage: "Failed to download and process data!"},
			},
		},
		{
			Name: "clouds",
			Stages: []model.StageSpec{
				{Name: "download", Script: "clouds_dl.py", Start: 0, End: 0.3, MaxAttempts: 3, RetryDelay: time.Millisecond, FailureMessage: "Failed to download data!"},
				{Name: "process", Script: "clouds_proc.py", Start: 0.3, End: 1, MaxAttempts: 1, RetryDelay: time.Millisecond},
			},
		},
	}
}

// waitRun waits for the terminal state and then for all the pipelines to return.
func waitRun(t *testing.T, o *pipeline.Orchestrator) model.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	state, err := o.Wait(ctx)
	require.NoError(t, err)

	select {
	case <-o.Done():
	case <-ctx.Done():
		t.Fatalf("run didn't finish in time")
	}
	require.Equal(t, state, o.CurrentState())

	return state
}

func TestOrchestratorRun(t *testing.T) {
	tests := map[string]struct {
		runner            func() *scriptfake.Runner
		expState          model.State
		expPipelineStates map[string]model.State
		expCalls          map[string]int
		expBarTexts       map[string]string
	}{
		"All pipelines succeeding should succeed.": {
			runner: func() *scriptfake.Runner {
				return scriptfake.NewRunner().
					OnExitCodes("radar.py", 0).
					OnExitCodes("clouds_dl.py", 0).
					OnExitCodes("clouds_proc.py", 0)
			},
			expState:          model.StateSuccess,
			expPipelineStates: map[string]model.State{"radar": model.StateSuccess, "clouds": model.StateSuccess},
			expCalls:          map[string]int{"radar.py": 1, "clouds_dl.py": 1, "clouds_proc.py": 1},
		},

		"Retried stages that end succeeding should succeed.": {
			runner: func() *scriptfake.Runner {
				return scriptfake.NewRunner().
					OnExitCodes("radar.py", 1, 1, 0).
					OnExitCodes("clouds_dl.py", 2, 0).
					OnExitCodes("clouds_proc.py", 0)
			},
			expState:          model.StateSuccess,
			expPipelineStates: map[string]model.State{"radar": model.StateSuccess, "clouds": model.StateSuccess},
			expCalls:          map[string]int{"radar.py": 3, "clouds_dl.py": 2, "clouds_proc.py": 1},
		},

		"A pipeline exhausting its attempts should fail the run.": {
			runner: func() *scriptfake.Runner {
				return scriptfake.NewRunner().
					OnExitCodes("radar.py", 1, 1, 1).
					OnExitCodes("clouds_dl.py", 0).
					OnExitCodes("clouds_proc.py", 0)
			},
			expState:          model.StateFailure,
			expPipelineStates: map[string]model.State{"radar": model.StateFailure, "clouds": model.StateSuccess},
			expCalls:          map[string]int{"radar.py": 3, "clouds_dl.py": 1, "clouds_proc.py": 1},
			expBarTexts:       map[string]string{"radar": "Failed to download and process data!"},
		},

		"A failed first stage should skip the next stages.": {
			runner: func() *scriptfake.Runner {
				return scriptfake.NewRunner().
					OnExitCodes("radar.py", 0).
					OnExitCodes("clouds_dl.py", 1, 1, 1).
					OnExitCodes("clouds_proc.py", 0)
			},
			expState:          model.StateFailure,
			expPipelineStates: map[string]model.State{"radar": model.StateSuccess, "clouds": model.StateFailure},
			expCalls:          map[string]int{"radar.py": 1, "clouds_dl.py": 3, "clouds_proc.py": 0},
			expBarTexts:       map[string]string{"clouds": "Failed to download data!"},
		},

		"A failed single attempt stage should not be retried.": {
			runner: func() *scriptfake.Runner {
				return scriptfake.NewRunner().
					OnExitCodes("radar.py", 0).
					OnExitCodes("clouds_dl.py", 0).
					OnExitCodes("clouds_proc.py", 1, 0)
			},
			expState:          model.StateFailure,
			expPipelineStates: map[string]model.State{"radar": model.StateSuccess, "clouds": model.StateFailure},
			expCalls:          map[string]int{"radar.py": 1, "clouds_dl.py": 1, "clouds_proc.py": 1},
			expBarTexts:       map[string]string{"clouds": "Failed to run process!"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			runner := test.runner()
			obs := &observerRecorder{}
			o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
				Runner:    runner,
				Pipelines: testPipelines(),
				Observer:  obs,
			})
			require.NoError(err)
			assert.Equal(model.StateInProgress, o.CurrentState())

			err = o.Start(context.Background())
			require.NoError(err)
			state := waitRun(t, o)

			assert.Equal(test.expState, state)
			assert.Equal(test.expState, o.CurrentState())
			for p, exp := range test.expPipelineStates {
				got, err := o.PipelineState(p)
				require.NoError(err)
				assert.Equal(exp, got, p)
			}
			for s, exp := range test.expCalls {
				assert.Equal(exp, runner.CallsOf(s), s)
			}
			for p, exp := range test.expBarTexts {
				bar, err := o.Bar(p)
				require.NoError(err)
				snap := bar.Snapshot()
				assert.Equal(exp, snap.Text, p)
				assert.Equal(progress.KindFailure, snap.Kind, p)
			}
			assert.Empty(o.ActiveStatuses())

			events := obs.Events()
			assert.Equal(fmt.Sprintf("run:%s", test.expState), events[len(events)-1])
		})
	}
}

func TestOrchestratorFailureIsSticky(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner := scriptfake.NewRunner().
		OnExitCodes("radar.py", 1, 1, 1).
		On("clouds_dl.py", scriptfake.Outcome{Block: true}).
		OnExitCodes("clouds_proc.py", 0)

	var mu sync.Mutex
	var blocked *script.Status
	runner.OnRun = func(c scriptfake.Call) {
		if c.Script == "clouds_dl.py" {
			mu.Lock()
			blocked = c.Status
			mu.Unlock()
		}
	}

	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines()})
	require.NoError(err)
	require.NoError(o.Start(context.Background()))

	require.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return blocked != nil
	}, waitTimeout, time.Millisecond)

	// Radar fails while clouds is still running.
	require.Eventually(func() bool { return o.CurrentState() == model.StateFailure }, waitTimeout, time.Millisecond)
	cloudsState, err := o.PipelineState("clouds")
	require.NoError(err)
	assert.Equal(model.StateInProgress, cloudsState)
	select {
	case <-o.Done():
		t.Fatalf("run should not be done while a pipeline is running")
	default:
	}

	// Clouds ends succeeding, the run is still a failure.
	mu.Lock()
	blocked.MarkExited(0)
	mu.Unlock()

	state := waitRun(t, o)
	assert.Equal(model.StateFailure, state)
	cloudsState, err = o.PipelineState("clouds")
	require.NoError(err)
	assert.Equal(model.StateSuccess, cloudsState)
}

func TestOrchestratorFailureWithStuckPipeline(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner := scriptfake.NewRunner().
		OnExitCodes("radar.py", 1, 1, 1).
		On("clouds_dl.py", scriptfake.Outcome{Lines: []string{"Progress: 5% Waiting"}, Block: true})

	obs := &observerRecorder{}
	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines(), Observer: obs})
	require.NoError(err)
	require.NoError(o.Start(context.Background()))

	// The run is failed while clouds never ends, waiting must not block.
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	state, err := o.Wait(ctx)
	require.NoError(err)
	assert.Equal(model.StateFailure, state)
	select {
	case <-o.Terminal():
	default:
		t.Fatalf("terminal channel should be closed")
	}
	select {
	case <-o.Done():
		t.Fatalf("run should not be done while a pipeline is running")
	default:
	}

	// Cancelling stops the stuck pipeline but the failure is kept.
	require.Eventually(func() bool { return len(o.ActiveStatuses()) == 1 }, waitTimeout, time.Millisecond)
	o.Cancel()
	assert.Equal(model.StateFailure, o.CurrentState())
	assert.Empty(o.ActiveStatuses())
	radarState, err := o.PipelineState("radar")
	require.NoError(err)
	assert.Equal(model.StateFailure, radarState)
	cloudsState, err := o.PipelineState("clouds")
	require.NoError(err)
	assert.Equal(model.StateInProgress, cloudsState)

	assert.Equal(model.StateFailure, waitRun(t, o))
	events := obs.Events()
	assert.Equal("run:failure", events[len(events)-1])
	assert.Equal(0, runner.CallsOf("clouds_proc.py"))
}

func TestOrchestratorCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner := scriptfake.NewRunner().
		On("radar.py", scriptfake.Outcome{Lines: []string{"Progress: 10% Downloading"}, Block: true}).
		On("clouds_dl.py", scriptfake.Outcome{Block: true})

	var mu sync.Mutex
	hookCalls := 0
	runner.OnRun = func(c scriptfake.Call) {
		c.Status.Subscribe(script.Hooks{OnExit: func(int) {
			mu.Lock()
			hookCalls++
			mu.Unlock()
		}})
	}

	obs := &observerRecorder{}
	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines(), Observer: obs})
	require.NoError(err)
	require.NoError(o.Start(context.Background()))
	require.Eventually(func() bool { return len(o.ActiveStatuses()) == 2 }, waitTimeout, time.Millisecond)

	o.Cancel()
	o.Cancel()

	assert.Equal(model.StateCancelled, o.CurrentState())
	assert.Empty(o.ActiveStatuses())
	for _, p := range o.Pipelines() {
		s, err := o.PipelineState(p)
		require.NoError(err)
		assert.Equal(model.StateInProgress, s, p)
	}

	state := waitRun(t, o)
	assert.Equal(model.StateCancelled, state)
	assert.Equal(1, runner.CallsOf("radar.py"))
	assert.Equal(1, runner.CallsOf("clouds_dl.py"))
	assert.Equal(0, runner.CallsOf("clouds_proc.py"))

	mu.Lock()
	assert.Equal(0, hookCalls)
	mu.Unlock()

	assert.Equal([]string{
		"started radar/process#1",
		"started clouds/download#1",
	}, sortedPrefix(obs.Events(), 2))
	events := obs.Events()
	assert.Equal("run:cancelled", events[len(events)-1])
	assert.Len(events, 3)
}

func TestOrchestratorCancelDuringRetryDelay(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	pipelines := []model.PipelineSpec{{
		Name:   "radar",
		Stages: []model.StageSpec{{Name: "process", Script: "radar.py", Start: 0, End: 1, MaxAttempts: 3, RetryDelay: time.Hour}},
	}}
	runner := scriptfake.NewRunner().OnExitCodes("radar.py", 1)

	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: pipelines})
	require.NoError(err)
	require.NoError(o.Start(context.Background()))

	// The failed attempt leaves the registry before the retry delay starts.
	bar, err := o.Bar("radar")
	require.NoError(err)
	require.Eventually(func() bool { return bar.Snapshot().Text == pipeline.RetryingText }, waitTimeout, time.Millisecond)

	o.Cancel()
	state := waitRun(t, o)
	assert.Equal(model.StateCancelled, state)
	assert.Equal(1, runner.CallsOf("radar.py"))
}

func TestOrchestratorParentContextCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner := scriptfake.NewRunner().
		On("radar.py", scriptfake.Outcome{Block: true}).
		On("clouds_dl.py", scriptfake.Outcome{Block: true})

	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines()})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(o.Start(ctx))
	require.Eventually(func() bool { return len(o.ActiveStatuses()) == 2 }, waitTimeout, time.Millisecond)
	cancel()

	state := waitRun(t, o)
	assert.Equal(model.StateCancelled, state)
}

func TestOrchestratorCancelAfterFinishIsNoop(t *testing.T) {
	require := require.New(t)

	runner := scriptfake.NewRunner().
		OnExitCodes("radar.py", 0).
		OnExitCodes("clouds_dl.py", 0).
		OnExitCodes("clouds_proc.py", 0)
	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines()})
	require.NoError(err)

	// Before start.
	o.Cancel()
	assert.Equal(t, model.StateInProgress, o.CurrentState())

	require.NoError(o.Start(context.Background()))
	require.Equal(model.StateSuccess, waitRun(t, o))

	o.Cancel()
	assert.Equal(t, model.StateSuccess, o.CurrentState())
}

func TestOrchestratorStartTwice(t *testing.T) {
	require := require.New(t)

	runner := scriptfake.NewRunner().OnExitCodes("radar.py", 0).OnExitCodes("clouds_dl.py", 0).OnExitCodes("clouds_proc.py", 0)
	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: runner, Pipelines: testPipelines()})
	require.NoError(err)

	require.NoError(o.Start(context.Background()))
	err = o.Start(context.Background())
	require.ErrorIs(err, model.ErrAlreadyExists)
	waitRun(t, o)
}

func TestOrchestratorUnknownPipeline(t *testing.T) {
	assert := assert.New(t)

	o, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{Runner: scriptfake.NewRunner(), Pipelines: testPipelines()})
	require.NoError(t, err)

	_, err = o.PipelineState("missing")
	assert.ErrorIs(err, model.ErrNotFound)
	_, err = o.Bar("missing")
	assert.ErrorIs(err, model.ErrNotFound)
	assert.Equal([]string{"radar", "clouds"}, o.Pipelines())
}

func TestNewOrchestratorInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		cfg pipeline.OrchestratorConfig
	}{
		"Missing runner should fail.": {
			cfg: pipeline.OrchestratorConfig{Pipelines: testPipelines()},
		},

		"Missing pipelines should fail.": {
			cfg: pipeline.OrchestratorConfig{Runner: scriptfake.NewRunner()},
		},

		"Duplicated pipelines should fail.": {
			cfg: pipeline.OrchestratorConfig{
				Runner:    scriptfake.NewRunner(),
				Pipelines: append(testPipelines(), testPipelines()[0]),
			},
		},

		"Pipelines without stages should fail.": {
			cfg: pipeline.OrchestratorConfig{
				Runner:    scriptfake.NewRunner(),
				Pipelines: []model.PipelineSpec{{Name: "radar"}},
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := pipeline.NewOrchestrator(test.cfg)
			assert.Error(t, err)
		})
	}
}

// sortedPrefix returns the first n events sorted with radar first, pipelines start concurrently.
func sortedPrefix(events []string, n int) []string {
	if len(events) < n {
		return events
	}
	prefix := append([]string(nil), events[:n]...)
	if len(prefix) == 2 && prefix[0] != "started radar/process#1" {
		prefix[0], prefix[1] = prefix[1], prefix[0]
	}
	return prefix
}
