package testutils

import (
	"path/filepath"
	"runtime"
)

// ExamplesDir returns the weather example directory with the Python scripts and the
// pipelines configuration.
func ExamplesDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "..", "examples", "weather")
}
