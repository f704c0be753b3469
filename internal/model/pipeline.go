package model

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts is the attempt budget of a retrying stage.
	DefaultMaxAttempts = 3
	// DefaultRetryDelay is the fixed wait between two attempts of a retrying stage.
	DefaultRetryDelay = 1500 * time.Millisecond
	// DefaultUnbufferedFlag asks the interpreter for unbuffered output.
	DefaultUnbufferedFlag = "-u"
)

// State is the state of a pipeline or of a whole orchestrator run.
type State string

const (
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
	StateCancelled  State = "cancelled"
)

// IsTerminal returns true when the state will not change anymore.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateCancelled
}

// Invocation is how the scripts are executed: `<interpreter> <unbuffered flag> <script> <args>`.
type Invocation struct {
	// Interpreter is the executable path (e.g python).
	Interpreter string
	// UnbufferedFlag is passed before the script, empty disables it.
	UnbufferedFlag string
	// WorkingDir is where the scripts run, script paths are relative to it.
	WorkingDir string
	// Env are extra environment variables for the scripts.
	Env map[string]string
}

// StageSpec describes one unit of work of a pipeline.
type StageSpec struct {
	Name   string
	Script string
	Args   string
	// Start and End are the progress sub-range (0-1) this stage fills.
	Start float64
	End   float64
	// MaxAttempts is the attempt budget, 1 means no retries.
	MaxAttempts int
	// RetryDelay is the wait between attempts.
	RetryDelay time.Duration
	// FailureMessage is shown on the stage progress bar when the stage fails.
	FailureMessage string
}

// Validate validates the stage spec.
func (s StageSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("stage name is required: %w", ErrNotValid)
	}
	if s.Script == "" {
		return fmt.Errorf("stage %q script is required: %w", s.Name, ErrNotValid)
	}
	if s.Start < 0 || s.End > 1 || s.Start > s.End {
		return fmt.Errorf("stage %q progress range [%v, %v] must satisfy 0 <= start <= end <= 1: %w", s.Name, s.Start, s.End, ErrNotValid)
	}
	if s.MaxAttempts < 1 {
		return fmt.Errorf("stage %q attempts must be at least 1: %w", s.Name, ErrNotValid)
	}
	if s.RetryDelay < 0 {
		return fmt.Errorf("stage %q retry delay can't be negative: %w", s.Name, ErrNotValid)
	}

	return nil
}

// FailureText returns the message shown when the stage fails.
func (s StageSpec) FailureText() string {
	if s.FailureMessage != "" {
		return s.FailureMessage
	}
	return fmt.Sprintf("Failed to run %s!", s.Name)
}

// PipelineSpec is an ordered sequence of stages representing one independent workflow
// (e.g radar or clouds).
type PipelineSpec struct {
	Name   string
	Stages []StageSpec
}

// Validate validates the pipeline spec.
func (p PipelineSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required: %w", ErrNotValid)
	}
	if len(p.Stages) == 0 {
		return fmt.Errorf("pipeline %q requires at least one stage: %w", p.Name, ErrNotValid)
	}

	names := map[string]struct{}{}
	for _, s := range p.Stages {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
		if _, ok := names[s.Name]; ok {
			return fmt.Errorf("pipeline %q has duplicated stage %q: %w", p.Name, s.Name, ErrNotValid)
		}
		names[s.Name] = struct{}{}
	}

	return nil
}

// WithDefaults returns a copy of the pipeline with the unset stage values defaulted. The
// first stage retries (DefaultMaxAttempts), the next ones run a single attempt. A zero
// retry delay is defaulted to DefaultRetryDelay.
func (p PipelineSpec) WithDefaults() PipelineSpec {
	stages := make([]StageSpec, 0, len(p.Stages))
	for i, s := range p.Stages {
		if s.MaxAttempts == 0 {
			s.MaxAttempts = 1
			if i == 0 {
				s.MaxAttempts = DefaultMaxAttempts
			}
		}
		if s.RetryDelay == 0 {
			s.RetryDelay = DefaultRetryDelay
		}
		stages = append(stages, s)
	}
	p.Stages = stages

	return p
}

// LoadConfig is the full configuration of a loading run.
type LoadConfig struct {
	Invocation Invocation
	Pipelines  []PipelineSpec
}

// Validate validates the load config.
func (c LoadConfig) Validate() error {
	if c.Invocation.Interpreter == "" {
		return fmt.Errorf("interpreter is required: %w", ErrNotValid)
	}

	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline is required: %w", ErrNotValid)
	}

	names := map[string]struct{}{}
	for _, p := range c.Pipelines {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, ok := names[p.Name]; ok {
			return fmt.Errorf("duplicated pipeline %q: %w", p.Name, ErrNotValid)
		}
		names[p.Name] = struct{}{}
	}

	return nil
}
