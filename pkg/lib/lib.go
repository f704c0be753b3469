package lib

import (
	"context"
	"fmt"

	"github.com/slok/wxpipe/internal/conventions"
	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/script"
	"github.com/slok/wxpipe/internal/storage"
	"github.com/slok/wxpipe/internal/storage/memory"
	"github.com/slok/wxpipe/internal/storage/sqlite"
)

const (
	defaultInterpreter = "python"
)

// Config configures the SDK client.
//
// All fields are optional. An empty Config{} runs the scripts with `python -u` in the
// current directory and records the runs in ~/.wxpipe/wxpipe.db.
type Config struct {
	// Interpreter is the executable that runs the scripts.
	// Default: python.
	Interpreter string

	// UnbufferedFlag is passed to the interpreter before the script path, a pointer to
	// an empty string disables it.
	// Default: -u.
	UnbufferedFlag *string

	// WorkingDir is where the scripts run, script paths are relative to it.
	// Default: current directory.
	WorkingDir string

	// Env are extra environment variables for the scripts.
	Env map[string]string

	// DBPath is the run history SQLite database path.
	// Default: ~/.wxpipe/wxpipe.db.
	DBPath string

	// InMemoryHistory keeps the run history in memory instead of SQLite, it's lost
	// when the client is closed. Useful for tests.
	InMemoryHistory bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger
}

func (c *Config) defaults() error {
	if c.Interpreter == "" {
		c.Interpreter = defaultInterpreter
	}

	if c.UnbufferedFlag == nil {
		flag := model.DefaultUnbufferedFlag
		c.UnbufferedFlag = &flag
	}

	if c.DBPath == "" && !c.InMemoryHistory {
		p, err := conventions.DefaultDBPath()
		if err != nil {
			return err
		}
		c.DBPath = p
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	return nil
}

// Client is the main SDK entry point.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	invocation model.Invocation
	launcher   *script.Launcher
	repo       storage.Repository
	logger     log.Logger
	closeFn    func() error
}

// New creates a new SDK client.
//
// The caller must call [Client.Close] when done to release the history database.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	inv := model.Invocation{
		Interpreter:    cfg.Interpreter,
		UnbufferedFlag: *cfg.UnbufferedFlag,
		WorkingDir:     cfg.WorkingDir,
		Env:            cfg.Env,
	}

	launcher, err := script.NewLauncher(script.LauncherConfig{
		Interpreter:    inv.Interpreter,
		UnbufferedFlag: inv.UnbufferedFlag,
		WorkingDir:     inv.WorkingDir,
		Env:            inv.Env,
		Logger:         cfg.Logger,
	})
	if err != nil {
		return nil, mapError(fmt.Errorf("could not create launcher: %w", err))
	}

	c := &Client{
		invocation: inv,
		launcher:   launcher,
		logger:     cfg.Logger,
	}

	if cfg.InMemoryHistory {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		c.repo = repo
		return c, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	c.repo = repo
	c.closeFn = repo.Close

	return c, nil
}

// Close releases resources held by the client, including the database connection.
// After Close returns, the client must not be used.
func (c *Client) Close() error {
	if c.closeFn != nil {
		return c.closeFn()
	}
	return nil
}
