package wxpipe_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/test/integration/testutils"
	intwxpipe "github.com/slok/wxpipe/test/integration/wxpipe"
)

// runItem matches the JSON output of `wxpipe list --format json`.
type runItem struct {
	ID        string   `json:"id"`
	State     string   `json:"state"`
	Pipelines []string `json:"pipelines"`
}

// statusOutput matches the JSON output of `wxpipe status --format json`.
type statusOutput struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	Attempts []struct {
		Pipeline            string  `json:"pipeline"`
		Stage               string  `json:"stage"`
		ExitCode            int     `json:"exit_code"`
		Progress            float64 `json:"progress"`
		LastProgressMessage string  `json:"last_progress_message"`
	} `json:"attempts"`
}

func TestWxpipeRunPipelines(t *testing.T) {
	config := intwxpipe.NewConfig(t)
	dbPath := filepath.Join(t.TempDir(), "wxpipe.db")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stdout, stderr, err := intwxpipe.RunPipelines(ctx, config, dbPath, "--timestamp", "2026-03-14T09:00:00Z")
	require.NoError(t, err, "stdout: %s\nstderr: %s", stdout, stderr)
	assert.Contains(t, string(stdout), "All pipelines finished successfully")

	stdout, _, err = intwxpipe.RunList(ctx, config, dbPath)
	require.NoError(t, err)
	var runs []runItem
	require.NoError(t, json.Unmarshal(stdout, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "success", runs[0].State)
	assert.Equal(t, []string{"radar", "clouds"}, runs[0].Pipelines)

	stdout, _, err = intwxpipe.RunStatus(ctx, config, dbPath, runs[0].ID)
	require.NoError(t, err)
	var status statusOutput
	require.NoError(t, json.Unmarshal(stdout, &status))
	require.Len(t, status.Attempts, 3)
	for _, a := range status.Attempts {
		assert.Equal(t, 0, a.ExitCode)
		assert.Equal(t, float64(100), a.Progress)
	}
}

func TestWxpipeScript(t *testing.T) {
	config := intwxpipe.NewConfig(t)
	dbPath := filepath.Join(t.TempDir(), "wxpipe.db")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stdout, stderr, err := intwxpipe.RunCmd(ctx, config, dbPath,
		"script", "--interpreter", config.Python, "--working-dir", testutils.ExamplesDir(),
		"Python/DataProcessing.py", "radar", "2026-03-14T09:00:00Z",
	)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, string(stdout), "Downloading radar data (2026-03-14T09:00:00Z)")
	assert.Contains(t, string(stdout), "[100%] Radar data ready")
}

func TestWxpipeValidate(t *testing.T) {
	config := intwxpipe.NewConfig(t)
	dbPath := filepath.Join(t.TempDir(), "wxpipe.db")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stdout, stderr, err := intwxpipe.RunCmd(ctx, config, dbPath, "validate", config.Python, "--working-dir", testutils.ExamplesDir())
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, string(stdout), "Valid interpreter")
}
