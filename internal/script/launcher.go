package script

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/protocol"
	"github.com/slok/wxpipe/internal/utils/env"
)

const maxLineSize = 1024 * 1024

// Runner knows how to launch scripts.
type Runner interface {
	// RunScript launches the script in the background and returns its status right away.
	RunScript(ctx context.Context, scriptPath, args string) *Status
}

// LauncherConfig is the configuration of the launcher.
type LauncherConfig struct {
	// Interpreter is the executable that runs the scripts (e.g python).
	Interpreter string
	// UnbufferedFlag is passed to the interpreter before the script path (e.g -u),
	// empty means no flag.
	UnbufferedFlag string
	// WorkingDir is the scripts working directory, by default the current one.
	WorkingDir string
	// Env are additional environment variables set on top of the current environment.
	Env map[string]string
	// Parser decodes the stdout lines, by default protocol.ParseLine.
	Parser protocol.Parser
	// KillGracePeriod is how long a status Exit waits before killing the process.
	KillGracePeriod time.Duration
	Logger          log.Logger
}

func (c *LauncherConfig) defaults() error {
	if c.Interpreter == "" {
		return fmt.Errorf("interpreter is required")
	}

	if c.WorkingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("could not get working directory: %w", err)
		}
		c.WorkingDir = wd
	}

	if c.Parser == nil {
		c.Parser = protocol.ParseLine
	}

	if c.KillGracePeriod <= 0 {
		c.KillGracePeriod = defaultKillGracePeriod
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "script.Launcher"})
	return nil
}

// Launcher spawns script processes as `<interpreter> <unbuffered flag> <script> <args>`
// and streams their output into a Status.
type Launcher struct {
	interpreter    string
	unbufferedFlag string
	workingDir     string
	env            []string
	parser         protocol.Parser
	killGrace      time.Duration
	logger         log.Logger
}

// NewLauncher returns a new script launcher.
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Launcher{
		interpreter:    cfg.Interpreter,
		unbufferedFlag: cfg.UnbufferedFlag,
		workingDir:     cfg.WorkingDir,
		env:            env.Environ(os.Environ(), cfg.Env),
		parser:         cfg.Parser,
		killGrace:      cfg.KillGracePeriod,
		logger:         cfg.Logger,
	}, nil
}

// RunScript launches the script with its arguments string in a background worker and
// returns its status. Spawn failures are reported through the status error channel.
// When ctx is cancelled the status is asked to exit.
func (l *Launcher) RunScript(ctx context.Context, scriptPath, args string) *Status {
	st := l.newStatus(scriptPath)
	go l.run(ctx, st, scriptPath, args)
	return st
}

// RunScriptWithHooks is like RunScript but the hooks are subscribed before the process
// starts, so they observe every line.
func (l *Launcher) RunScriptWithHooks(ctx context.Context, scriptPath, args string, h Hooks) *Status {
	st := l.newStatus(scriptPath)
	st.Subscribe(h)
	go l.run(ctx, st, scriptPath, args)
	return st
}

func (l *Launcher) newStatus(scriptPath string) *Status {
	return NewStatus(StatusConfig{
		Script:          scriptPath,
		Parser:          l.parser,
		KillGracePeriod: l.killGrace,
		Logger:          l.logger,
	})
}

func (l *Launcher) run(ctx context.Context, st *Status, scriptPath, args string) {
	logger := l.logger.WithValues(log.Kv{"script": scriptPath, "status-id": st.ID()})

	argv, err := SplitArgs(args)
	if err != nil {
		st.spawnFailed(fmt.Errorf("invalid script arguments %q: %w", args, err))
		return
	}

	cmdArgs := make([]string, 0, len(argv)+2)
	if l.unbufferedFlag != "" {
		cmdArgs = append(cmdArgs, l.unbufferedFlag)
	}
	cmdArgs = append(cmdArgs, scriptPath)
	cmdArgs = append(cmdArgs, argv...)

	cmd := exec.Command(l.interpreter, cmdArgs...)
	cmd.Dir = l.workingDir
	cmd.Env = l.env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		st.spawnFailed(fmt.Errorf("could not get stdout: %w", err))
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		st.spawnFailed(fmt.Errorf("could not get stderr: %w", err))
		return
	}

	logger.Debugf("Starting %s %v", l.interpreter, cmdArgs)
	if err := cmd.Start(); err != nil {
		st.spawnFailed(fmt.Errorf("could not start script: %w", err))
		return
	}
	st.attach(cmd.Process)

	go func() {
		select {
		case <-ctx.Done():
			logger.Debugf("Context done, stopping script")
			st.Exit()
		case <-st.Exited():
		}
	}()

	// All reads must finish before calling Wait.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l.scanLines(logger, "stdout", stdout, st.HandleOutputLine)
	}()
	go func() {
		defer wg.Done()
		l.scanLines(logger, "stderr", stderr, st.HandleErrorLine)
	}()
	wg.Wait()

	code, err := exitCode(cmd.Wait())
	if err != nil {
		logger.Warningf("Could not wait for script: %s", err)
		st.HandleErrorLine(err.Error())
	}

	logger.Debugf("Script exited with code %d", code)
	st.MarkExited(code)
}

func (l *Launcher) scanLines(logger log.Logger, stream string, r io.Reader, handle func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		logger.Debugf("[%s] %s", stream, line)
		handle(line)
	}

	if err := scanner.Err(); err != nil {
		logger.Warningf("Could not read script %s: %s", stream, err)
		// Keep draining so the process doesn't block on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}
}

// exitCode converts a process wait result into an exit code. Processes terminated by
// a signal get 128+signal so they are never confused with the not exited sentinel.
func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1, err
	}

	if code := exitErr.ExitCode(); code >= 0 {
		return code, nil
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}

	return 1, nil
}

var _ Runner = &Launcher{}
