package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/slok/wxpipe/internal/app/load"
	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/script"
)

const (
	// DefaultProbeScript is the script run to validate an interpreter, it reports the
	// interpreter description as a progress message.
	DefaultProbeScript = "Python/ValidatePythonExe.py"

	defaultTimeout = 30 * time.Second
)

// ServiceConfig is the configuration for the probe service.
type ServiceConfig struct {
	RunnerFactory load.RunnerFactory
	// Timeout is the max time a probe can take.
	Timeout time.Duration
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.RunnerFactory == nil {
		c.RunnerFactory = load.LauncherRunnerFactory
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.probe.Service"})

	return nil
}

// Service validates script interpreters by running a probe script with them. Only one
// probe runs at a time, a new probe kills the previous one.
type Service struct {
	runnerFactory load.RunnerFactory
	timeout       time.Duration
	logger        log.Logger

	mu      sync.Mutex
	current *script.Status
}

// NewService creates a new probe service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		runnerFactory: cfg.RunnerFactory,
		timeout:       cfg.Timeout,
		logger:        cfg.Logger,
	}, nil
}

// Request represents the probe request parameters.
type Request struct {
	Interpreter    string
	UnbufferedFlag string
	WorkingDir     string
	// ProbeScript is the validation script, by default DefaultProbeScript.
	ProbeScript string
}

// Result is the result of a probe.
type Result struct {
	Valid bool
	// Message is the interpreter description when valid, the reason otherwise.
	Message string
	// Interpreter is the resolved interpreter path.
	Interpreter string
}

// Run validates an interpreter. Invalid interpreters are not errors, they are reported
// in the result.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	s.killCurrent()

	if req.Interpreter == "" {
		return nil, fmt.Errorf("interpreter is required: %w", model.ErrNotValid)
	}
	if req.ProbeScript == "" {
		req.ProbeScript = DefaultProbeScript
	}

	path, err := resolveInterpreter(req.Interpreter)
	if err != nil {
		s.logger.Debugf("Interpreter %q not found: %s", req.Interpreter, err)
		return &Result{Valid: false, Message: "File does not exist", Interpreter: req.Interpreter}, nil
	}

	runner, err := s.runnerFactory(model.Invocation{
		Interpreter:    path,
		UnbufferedFlag: req.UnbufferedFlag,
		WorkingDir:     req.WorkingDir,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("could not create script runner: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// When Run returns the probe context is cancelled, stopping the probe if still running.
	reported := make(chan struct{})
	var once sync.Once
	markReported := func() { once.Do(func() { close(reported) }) }

	st := runner.RunScript(ctx, req.ProbeScript, "")
	unsubscribe := st.Subscribe(script.Hooks{OnProgress: func(_ float64, msg string) {
		if msg != "" {
			markReported()
		}
	}})
	defer unsubscribe()
	if st.LastProgressMessage() != "" {
		markReported()
	}
	s.setCurrent(st)

	select {
	case <-reported:
	case <-st.Exited():
	case <-ctx.Done():
	}
	if err := ctx.Err(); err != nil {
		st.Kill()
		return nil, fmt.Errorf("probe didn't finish: %w", err)
	}

	snap := st.Snapshot()
	if (snap.Exited && snap.ExitCode > 0) || snap.LastProgressMessage == "" {
		msg := "The interpreter can't run the probe script"
		if snap.LastErrorMessage != "" {
			msg = fmt.Sprintf("%s: %s", msg, snap.LastErrorMessage)
		}
		return &Result{Valid: false, Message: msg, Interpreter: path}, nil
	}

	return &Result{Valid: true, Message: snap.LastProgressMessage, Interpreter: path}, nil
}

func (s *Service) setCurrent(st *script.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = st
}

func (s *Service) killCurrent() {
	s.mu.Lock()
	st := s.current
	s.current = nil
	s.mu.Unlock()

	if st != nil {
		st.ClearHooks()
		st.Kill()
	}
}

func resolveInterpreter(interpreter string) (string, error) {
	if filepath.Base(interpreter) == interpreter {
		return exec.LookPath(interpreter)
	}

	info, err := os.Stat(interpreter)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", interpreter)
	}
	return interpreter, nil
}
