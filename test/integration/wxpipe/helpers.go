package wxpipe

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/slok/wxpipe/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
	Python string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "wxpipe"
	}

	// go test changes the CWD to the test package directory, relative paths are ambiguous.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("WXPIPE_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("wxpipe binary not found at %q: %w", c.Binary, err)
	}

	if c.Python == "" {
		c.Python = "python3"
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "WXPIPE_INTEGRATION"
		envBinary     = "WXPIPE_INTEGRATION_BINARY"
		envPython     = "WXPIPE_INTEGRATION_PYTHON"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
		Python: os.Getenv(envPython),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// RunCmd runs a wxpipe command with the given arguments and a specific db path.
func RunCmd(ctx context.Context, config Config, dbPath string, args ...string) (stdout, stderr []byte, err error) {
	args = append([]string{"--no-log", "--no-color", "--db-path", dbPath}, args...)

	var outData, errData bytes.Buffer
	cmd := exec.CommandContext(ctx, config.Binary, args...)
	cmd.Stdout = &outData
	cmd.Stderr = &errData
	cmd.Env = append(os.Environ(), "WXPIPE_NO_LOG=true")

	err = cmd.Run()

	return outData.Bytes(), errData.Bytes(), err
}

// RunPipelines runs the weather example pipelines.
func RunPipelines(ctx context.Context, config Config, dbPath string, extraArgs ...string) (stdout, stderr []byte, err error) {
	cfgPath := filepath.Join(testutils.ExamplesDir(), "pipelines.yaml")
	args := []string{"run", "--config", cfgPath, "--interpreter", config.Python, "--no-progress"}
	return RunCmd(ctx, config, dbPath, append(args, extraArgs...)...)
}

// RunList lists the runs in JSON format.
func RunList(ctx context.Context, config Config, dbPath string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, "list", "--format", "json")
}

// RunStatus gets a run status in JSON format.
func RunStatus(ctx context.Context, config Config, dbPath, runID string) (stdout, stderr []byte, err error) {
	return RunCmd(ctx, config, dbPath, "status", runID, "--format", "json")
}
