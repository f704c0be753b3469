package io

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/slok/wxpipe/internal/model"
)

// PipelinesYAMLRepository loads the script pipelines configuration from YAML files.
type PipelinesYAMLRepository struct {
	fs fs.FS
}

// NewPipelinesYAMLRepository creates a new YAML pipelines repository.
func NewPipelinesYAMLRepository(filesystem fs.FS) *PipelinesYAMLRepository {
	return &PipelinesYAMLRepository{fs: filesystem}
}

// GetLoadConfig loads the pipelines configuration from a YAML file and returns a validated
// domain model with the stage defaults applied.
func (r *PipelinesYAMLRepository) GetLoadConfig(ctx context.Context, path string) (model.LoadConfig, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.LoadConfig{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.LoadConfig{}, ctx.Err()
	}

	var cfg LoadConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return model.LoadConfig{}, fmt.Errorf("parsing YAML: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return model.LoadConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	m := cfg.toModel()
	if err := m.Validate(); err != nil {
		return model.LoadConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return m, nil
}

// LoadConfig represents the YAML structure for the pipelines configuration.
type LoadConfig struct {
	Interpreter string `yaml:"interpreter"`
	// UnbufferedFlag is a pointer so an explicit empty value disables the flag.
	UnbufferedFlag *string           `yaml:"unbuffered_flag,omitempty"`
	WorkingDir     string            `yaml:"working_dir"`
	Env            map[string]string `yaml:"env"`
	Pipelines      []PipelineConfig  `yaml:"pipelines"`
}

// PipelineConfig represents the YAML structure for a pipeline.
type PipelineConfig struct {
	Name   string        `yaml:"name"`
	Stages []StageConfig `yaml:"stages"`
}

// StageConfig represents the YAML structure for a pipeline stage.
type StageConfig struct {
	Name           string        `yaml:"name"`
	Script         string        `yaml:"script"`
	Args           string        `yaml:"args"`
	Start          float64       `yaml:"start"`
	End            *float64      `yaml:"end,omitempty"`
	Attempts       int           `yaml:"attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	FailureMessage string        `yaml:"failure_message"`
}

func (c LoadConfig) validate() error {
	if c.Interpreter == "" {
		return fmt.Errorf("interpreter is required")
	}

	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline is required")
	}

	for i, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline %d: name is required", i)
		}
		for j, s := range p.Stages {
			if s.Attempts < 0 {
				return fmt.Errorf("pipeline %q stage %d: attempts can't be negative, got: %d", p.Name, j, s.Attempts)
			}
			if s.RetryDelay < 0 {
				return fmt.Errorf("pipeline %q stage %d: retry_delay can't be negative, got: %s", p.Name, j, s.RetryDelay)
			}
		}
	}

	return nil
}

func (c LoadConfig) toModel() model.LoadConfig {
	flag := model.DefaultUnbufferedFlag
	if c.UnbufferedFlag != nil {
		flag = *c.UnbufferedFlag
	}

	cfg := model.LoadConfig{
		Invocation: model.Invocation{
			Interpreter:    c.Interpreter,
			UnbufferedFlag: flag,
			WorkingDir:     c.WorkingDir,
			Env:            c.Env,
		},
	}

	for _, p := range c.Pipelines {
		ps := model.PipelineSpec{Name: p.Name}
		for _, s := range p.Stages {
			// A missing end means the stage fills the rest of the bar.
			end := 1.0
			if s.End != nil {
				end = *s.End
			}
			ps.Stages = append(ps.Stages, model.StageSpec{
				Name:           s.Name,
				Script:         s.Script,
				Args:           s.Args,
				Start:          s.Start,
				End:            end,
				MaxAttempts:    s.Attempts,
				RetryDelay:     s.RetryDelay,
				FailureMessage: s.FailureMessage,
			})
		}
		cfg.Pipelines = append(cfg.Pipelines, ps.WithDefaults())
	}

	return cfg
}
