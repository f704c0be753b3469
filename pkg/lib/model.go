package lib

import (
	"errors"
	"time"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/progress"
)

var (
	// ErrNotFound is returned when a resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned on invalid input.
	ErrNotValid = errors.New("not valid")
)

// State is the state of a pipeline or of a whole run.
type State string

const (
	// StateInProgress is a pipeline or run that didn't finish yet.
	StateInProgress State = "in_progress"
	// StateSuccess is a pipeline or run where all the stages succeeded.
	StateSuccess State = "success"
	// StateFailure is a pipeline with a failed stage, or a run with a failed pipeline.
	StateFailure State = "failure"
	// StateCancelled is a run that was cancelled before finishing.
	StateCancelled State = "cancelled"
)

// IsTerminal returns true when the state will not change anymore.
func (s State) IsTerminal() bool { return model.State(s).IsTerminal() }

// Stage is one script of a pipeline.
type Stage struct {
	// Name is the stage name, unique in its pipeline.
	Name string
	// Script is the script path, relative to the client working directory.
	Script string
	// Args are the script arguments, split with shell rules.
	Args string
	// Start and End are the pipeline progress bar sub-range (0-1) this stage fills.
	// An End of 0 means 1.
	Start float64
	End   float64
	// MaxAttempts is the attempt budget. When 0, the first stage of a pipeline gets
	// 3 attempts and the rest 1.
	MaxAttempts int
	// RetryDelay is the wait between attempts.
	// Default: 1.5s.
	RetryDelay time.Duration
	// FailureMessage is shown on the progress bar when the stage fails.
	FailureMessage string
}

// Pipeline is an ordered sequence of stages.
type Pipeline struct {
	Name   string
	Stages []Stage
}

// ProgressKind is the kind of a progress bar status.
type ProgressKind string

const (
	ProgressKindInProgress ProgressKind = "in_progress"
	ProgressKindSuccess    ProgressKind = "success"
	ProgressKindFailure    ProgressKind = "failure"
)

// ProgressState is a point in time state of a progress bar.
type ProgressState struct {
	// Started is false until the bar has a stage.
	Started bool
	// Fraction is the bar fill amount in [0, 1].
	Fraction float64
	// Text is the message to show, empty if none.
	Text string
	Kind ProgressKind
}

// Format renders the state as a text bar of width cells (e.g `[=====     ]  50% text`).
func (p ProgressState) Format(width int) string { return toInternalProgressState(p).Format(width) }

// Run is a recorded orchestrator run.
type Run struct {
	ID        string
	State     State
	Pipelines []string
	CreatedAt time.Time
	// FinishedAt is nil while the run is in progress.
	FinishedAt *time.Time
}

// Attempt is a recorded script launch of a run stage.
type Attempt struct {
	ID                  string
	Pipeline            string
	Stage               string
	Number              int
	Script              string
	Exited              bool
	ExitCode            int
	Progress            float64
	LastProgressMessage string
	LastOutputMessage   string
	LastErrorMessage    string
	StartedAt           time.Time
	FinishedAt          *time.Time
}

// RunStatus is a run with all its attempts.
type RunStatus struct {
	Run      Run
	Attempts []Attempt
}

// ListRunsOpts are the options to list runs.
type ListRunsOpts struct {
	// State only lists the runs in this state.
	State *State
	// Limit is the max number of runs, 0 means all.
	Limit int
}

// --- Conversion helpers ---

func toInternalPipelines(ps []Pipeline) []model.PipelineSpec {
	result := make([]model.PipelineSpec, 0, len(ps))
	for _, p := range ps {
		spec := model.PipelineSpec{Name: p.Name}
		for _, s := range p.Stages {
			end := s.End
			if end == 0 {
				end = 1
			}
			spec.Stages = append(spec.Stages, model.StageSpec{
				Name:           s.Name,
				Script:         s.Script,
				Args:           s.Args,
				Start:          s.Start,
				End:            end,
				MaxAttempts:    s.MaxAttempts,
				RetryDelay:     s.RetryDelay,
				FailureMessage: s.FailureMessage,
			})
		}
		result = append(result, spec.WithDefaults())
	}
	return result
}

func fromInternalProgressState(s progress.State) ProgressState {
	kind := ProgressKindInProgress
	switch s.Kind {
	case progress.KindSuccess:
		kind = ProgressKindSuccess
	case progress.KindFailure:
		kind = ProgressKindFailure
	}

	return ProgressState{
		Started:  s.Started,
		Fraction: s.Fraction,
		Text:     s.Text,
		Kind:     kind,
	}
}

func toInternalProgressKind(k ProgressKind) progress.Kind {
	switch k {
	case ProgressKindSuccess:
		return progress.KindSuccess
	case ProgressKindFailure:
		return progress.KindFailure
	default:
		return progress.KindInProgress
	}
}

func toInternalProgressState(s ProgressState) progress.State {
	return progress.State{
		Started:  s.Started,
		Fraction: s.Fraction,
		Text:     s.Text,
		Kind:     toInternalProgressKind(s.Kind),
	}
}

func fromInternalRun(r model.Run) Run {
	return Run{
		ID:         r.ID,
		State:      State(r.State),
		Pipelines:  r.Pipelines,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
	}
}

func fromInternalRunList(rs []model.Run) []Run {
	result := make([]Run, len(rs))
	for i, r := range rs {
		result[i] = fromInternalRun(r)
	}
	return result
}

func fromInternalAttempt(a model.Attempt) Attempt {
	return Attempt{
		ID:                  a.ID,
		Pipeline:            a.Pipeline,
		Stage:               a.Stage,
		Number:              a.Number,
		Script:              a.Script,
		Exited:              a.Exited,
		ExitCode:            a.ExitCode,
		Progress:            a.Progress,
		LastProgressMessage: a.LastProgressMessage,
		LastOutputMessage:   a.LastOutputMessage,
		LastErrorMessage:    a.LastErrorMessage,
		StartedAt:           a.StartedAt,
		FinishedAt:          a.FinishedAt,
	}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, model.ErrNotFound):
		return &mappedError{original: err, sentinel: ErrNotFound}
	case errors.Is(err, model.ErrAlreadyExists):
		return &mappedError{original: err, sentinel: ErrAlreadyExists}
	case errors.Is(err, model.ErrNotValid):
		return &mappedError{original: err, sentinel: ErrNotValid}
	default:
		return err
	}
}

// mappedError keeps the internal error chain while matching the public sentinel.
type mappedError struct {
	original error
	sentinel error
}

func (e *mappedError) Error() string        { return e.original.Error() }
func (e *mappedError) Is(target error) bool { return target == e.sentinel }
func (e *mappedError) Unwrap() error        { return e.original }
