package lib

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	sdklib "github.com/slok/wxpipe/pkg/lib"
	"github.com/slok/wxpipe/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Python string
}

// NewConfig loads integration test configuration from environment variables.
// If the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "WXPIPE_INTEGRATION"
		envPython     = "WXPIPE_INTEGRATION_PYTHON"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{Python: os.Getenv(envPython)}
	if c.Python == "" {
		c.Python = "python3"
	}

	return c
}

// NewTestClient creates an SDK client running the example scripts with the configured
// Python and an in-memory history.
func NewTestClient(t *testing.T, config Config) *sdklib.Client {
	t.Helper()

	client, err := sdklib.New(context.Background(), sdklib.Config{
		Interpreter:     config.Python,
		WorkingDir:      testutils.ExamplesDir(),
		InMemoryHistory: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}
