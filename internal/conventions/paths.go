package conventions

import (
	"fmt"
	"path/filepath"

	"k8s.io/client-go/util/homedir"
)

const (
	// DefaultDataDir is the default wxpipe data directory name (relative to home).
	DefaultDataDir = ".wxpipe"
	// DBFile is the run history SQLite database filename.
	DBFile = "wxpipe.db"
	// DefaultConfigFile is the pipelines configuration file used when none is given.
	DefaultConfigFile = "pipelines.yaml"
)

// DBPath returns the run history database path inside a data directory.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// DefaultDBPath returns the run history database path in the user home data directory.
func DefaultDBPath() (string, error) {
	home := homedir.HomeDir()
	if home == "" {
		return "", fmt.Errorf("could not get user home dir")
	}

	return DBPath(filepath.Join(home, DefaultDataDir)), nil
}
