package io

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/internal/model"
)

const weatherPipelines = `
interpreter: /usr/bin/python3
working_dir: /opt/weather
env:
  WX_CACHE: /tmp/wx
pipelines:
  - name: radar
    stages:
      - name: process
        script: Python/DataProcessing.py
        failure_message: Failed to download and process data!
  - name: clouds
    stages:
      - name: download
        script: Python/CloudDataDownload.py
        end: 0.3
        failure_message: Failed to download data!
      - name: process
        script: Python/CloudDataVariablesProcessing.py
        args: --levels "850 500"
        start: 0.3
        failure_message: Failed to process data!
`

func TestPipelinesYAMLRepositoryGetLoadConfig(t *testing.T) {
	tests := map[string]struct {
		fs     fstest.MapFS
		path   string
		expCfg model.LoadConfig
		expErr bool
	}{
		"A full config should load with the stage defaults.": {
			fs:   fstest.MapFS{"pipelines.yaml": {Data: []byte(weatherPipelines)}},
			path: "pipelines.yaml",
			expCfg: model.LoadConfig{
				Invocation: model.Invocation{
					Interpreter:    "/usr/bin/python3",
					UnbufferedFlag: "-u",
					WorkingDir:     "/opt/weather",
					Env:            map[string]string{"WX_CACHE": "/tmp/wx"},
				},
				Pipelines: []model.PipelineSpec{
					{
						Name: "radar",
						Stages: []model.StageSpec{
							{Name: "process", Script: "Python/DataProcessing.py", Start: 0, End: 1, MaxAttempts: 3, RetryDelay: 1500 * time.Millisecond, FailureMessage: "Failed to download and process data!"},
						},
					},
					{
						Name: "clouds",
						Stages: []model.StageSpec{
							{Name: "download", Script: "Python/CloudDataDownload.py", Start: 0, End: 0.3, MaxAttempts: 3, RetryDelay: 1500 * time.Millisecond, FailureMessage: "Failed to download data!"},
							{Name: "process", Script: "Python/CloudDataVariablesProcessing.py", Args: `--levels "850 500"`, Start: 0.3, End: 1, MaxAttempts: 1, RetryDelay: 1500 * time.Millisecond, FailureMessage: "Failed to process data!"},
						},
					},
				},
			},
		},

		"Explicit attempts, delay and an empty unbuffered flag should be kept.": {
			fs: fstest.MapFS{"p.yaml": {Data: []byte(`
interpreter: python
unbuffered_flag: ""
pipelines:
  - name: radar
    stages:
      - name: process
        script: radar.py
        attempts: 5
        retry_delay: 250ms
`)}},
			path: "p.yaml",
			expCfg: model.LoadConfig{
				Invocation: model.Invocation{Interpreter: "python"},
				Pipelines: []model.PipelineSpec{{
					Name:   "radar",
					Stages: []model.StageSpec{{Name: "process", Script: "radar.py", End: 1, MaxAttempts: 5, RetryDelay: 250 * time.Millisecond}},
				}},
			},
		},

		"Missing file should fail.": {
			fs:     fstest.MapFS{},
			path:   "missing.yaml",
			expErr: true,
		},

		"Invalid YAML should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: [")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Unknown fields should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: python\nintepreter_typo: x\n")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Empty file should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Missing interpreter should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("pipelines:\n  - name: radar\n    stages:\n      - {name: a, script: a.py}\n")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Pipeline without stages should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: python\npipelines:\n  - name: radar\n")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Invalid progress range should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: python\npipelines:\n  - name: radar\n    stages:\n      - {name: a, script: a.py, start: 0.8, end: 0.2}\n")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Negative attempts should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: python\npipelines:\n  - name: radar\n    stages:\n      - {name: a, script: a.py, attempts: -1}\n")}},
			path:   "p.yaml",
			expErr: true,
		},

		"Duplicated pipelines should fail.": {
			fs:     fstest.MapFS{"p.yaml": {Data: []byte("interpreter: python\npipelines:\n  - name: radar\n    stages:\n      - {name: a, script: a.py}\n  - name: radar\n    stages:\n      - {name: a, script: a.py}\n")}},
			path:   "p.yaml",
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			repo := NewPipelinesYAMLRepository(test.fs)
			cfg, err := repo.GetLoadConfig(context.Background(), test.path)

			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(err)
			assert.Equal(test.expCfg, cfg)
		})
	}
}
