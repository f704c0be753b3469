package script

import (
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/protocol"
)

const (
	// ExitCodeNotExited is the exit code sentinel of a status whose process has not exited yet.
	ExitCodeNotExited = -1
	// ExitCodeSpawnFailure is the exit code set when the process could not be started.
	ExitCodeSpawnFailure = 127

	defaultKillGracePeriod = 3 * time.Second
)

// Hooks are the callbacks of a status observer. All of them are optional.
//
// Hooks are called while the status lock is held and in the same order the events
// were observed, they must not call methods of the status that fired them.
type Hooks struct {
	OnProgress func(progress float64, message string)
	OnOutput   func(line string)
	OnError    func(line string)
	OnExit     func(code int)
}

// Snapshot is a point in time copy of a status.
type Snapshot struct {
	ID                  string
	Script              string
	Progress            float64
	LastProgressMessage string
	LastOutputMessage   string
	LastErrorMessage    string
	Exited              bool
	ExitCode            int
}

// HasFinished returns true if the process exited or reported a progress of 100 or more.
func (s Snapshot) HasFinished() bool { return s.Exited || s.Progress >= 100 }

// StatusConfig is the configuration of a status.
type StatusConfig struct {
	// ID is the status ID, a ULID is generated when empty.
	ID string
	// Script is the script path this status tracks.
	Script string
	// Parser decodes stdout lines, by default protocol.ParseLine.
	Parser protocol.Parser
	// KillGracePeriod is how long Exit waits for the process before killing it.
	KillGracePeriod time.Duration
	Logger          log.Logger
}

func (c *StatusConfig) defaults() {
	if c.ID == "" {
		c.ID = ulid.Make().String()
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "script.Status", "status-id": c.ID})
}

type terminateMode int

const (
	terminateNone terminateMode = iota
	terminateExit
	terminateKill
)

type hookEntry struct {
	id    uint64
	hooks Hooks
}

// Status is the shared status of one script process attempt. It's written by the
// worker driving the process and read (or subscribed to) by any number of callers.
type Status struct {
	id        string
	script    string
	parser    protocol.Parser
	killGrace time.Duration
	logger    log.Logger

	mu                  sync.Mutex
	progress            float64
	lastProgressMessage string
	lastOutputMessage   string
	lastErrorMessage    string
	exited              bool
	exitCode            int
	hooks               []hookEntry
	nextHookID          uint64
	process             *os.Process
	terminate           terminateMode
	exitRequested       bool
	done                chan struct{}
	doneClosed          bool
	exitedC             chan struct{}

	// Lock free mirrors used by HasFinished.
	progressBits atomic.Uint64
	exitedFlag   atomic.Bool
}

// NewStatus returns a new status without process. Statuses are normally created by
// the Launcher, this is exposed so other runners can drive a status.
func NewStatus(cfg StatusConfig) *Status {
	cfg.defaults()

	return &Status{
		id:        cfg.ID,
		script:    cfg.Script,
		parser:    cfg.Parser,
		killGrace: cfg.KillGracePeriod,
		logger:    cfg.Logger,
		exitCode:  ExitCodeNotExited,
		done:      make(chan struct{}),
		exitedC:   make(chan struct{}),
	}
}

// ID returns the status ID.
func (s *Status) ID() string { return s.id }

// Script returns the script path tracked by the status.
func (s *Status) Script() string { return s.script }

// HasFinished returns true if the process exited or the progress reached 100.
// It doesn't take the status lock, readers may observe slightly stale values.
func (s *Status) HasFinished() bool {
	return s.exitedFlag.Load() || math.Float64frombits(s.progressBits.Load()) >= 100
}

// Done returns a channel that is closed the first time the status finishes.
func (s *Status) Done() <-chan struct{} { return s.done }

// Exited returns a channel that is closed when the process exits.
func (s *Status) Exited() <-chan struct{} { return s.exitedC }

// Progress returns the last reported progress.
func (s *Status) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// LastProgressMessage returns the last progress message, empty if none.
func (s *Status) LastProgressMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProgressMessage
}

// LastOutputMessage returns the last plain stdout line, empty if none.
func (s *Status) LastOutputMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutputMessage
}

// LastErrorMessage returns the last stderr line, empty if none.
func (s *Status) LastErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErrorMessage
}

// HasExited returns true when the process exited.
func (s *Status) HasExited() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exited
}

// ExitCode returns the process exit code, ExitCodeNotExited until the process exits.
func (s *Status) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Snapshot returns a copy of the current status.
func (s *Status) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		ID:                  s.id,
		Script:              s.script,
		Progress:            s.progress,
		LastProgressMessage: s.lastProgressMessage,
		LastOutputMessage:   s.lastOutputMessage,
		LastErrorMessage:    s.lastErrorMessage,
		Exited:              s.exited,
		ExitCode:            s.exitCode,
	}
}

// Subscribe registers hooks on the status and returns a function to unregister them.
func (s *Status) Subscribe(h Hooks) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextHookID++
	id := s.nextHookID
	s.hooks = append(s.hooks, hookEntry{id: id, hooks: h})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.hooks {
			if e.id == id {
				s.hooks = append(s.hooks[:i:i], s.hooks[i+1:]...)
				return
			}
		}
	}
}

// ClearHooks removes all the registered hooks, no hook will be fired after it returns.
func (s *Status) ClearHooks() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = nil
}

// HandleOutputLine processes a line from the process standard output.
func (s *Status) HandleOutputLine(line string) {
	l := s.parser(line)

	s.mu.Lock()
	defer s.mu.Unlock()

	if l.Kind != protocol.KindProgress {
		s.lastOutputMessage = l.Raw
		for _, e := range s.hooks {
			if e.hooks.OnOutput != nil {
				e.hooks.OnOutput(l.Raw)
			}
		}
		return
	}

	if l.HasProgress {
		s.progress = l.Progress
		s.progressBits.Store(math.Float64bits(l.Progress))
	}
	if l.HasMessage() {
		s.lastProgressMessage = l.Message
	}
	for _, e := range s.hooks {
		if e.hooks.OnProgress != nil {
			e.hooks.OnProgress(s.progress, s.lastProgressMessage)
		}
	}

	if s.progress >= 100 {
		s.closeDone()
	}
}

// HandleErrorLine processes a line from the process standard error. These lines are
// never decoded as progress.
func (s *Status) HandleErrorLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErrorMessage = line
	for _, e := range s.hooks {
		if e.hooks.OnError != nil {
			e.hooks.OnError(line)
		}
	}
}

// MarkExited sets the process exit code. Only the first call has effect, the exit
// hooks are fired once.
func (s *Status) MarkExited(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return
	}

	s.exited = true
	s.exitCode = code
	s.exitedFlag.Store(true)
	for _, e := range s.hooks {
		if e.hooks.OnExit != nil {
			e.hooks.OnExit(code)
		}
	}

	close(s.exitedC)
	s.closeDone()
}

// spawnFailed reports a process that could not be started through the error channel
// and finishes the status as a failed exit.
func (s *Status) spawnFailed(err error) {
	s.logger.Warningf("Could not spawn script: %s", err)
	s.HandleErrorLine(err.Error())
	s.MarkExited(ExitCodeSpawnFailure)
}

// attach sets the started process. Termination requested before the process was
// attached is applied now.
func (s *Status) attach(p *os.Process) {
	s.mu.Lock()
	s.process = p
	mode := s.terminate
	s.terminate = terminateNone
	s.mu.Unlock()

	switch mode {
	case terminateExit:
		s.Exit()
	case terminateKill:
		s.Kill()
	}
}

// Exit asks the process to terminate (SIGTERM) and kills it if it didn't exit after
// the grace period. It's best-effort, safe to call multiple times, concurrently and
// on statuses whose process never started.
func (s *Status) Exit() {
	p, ok := s.processForTermination(terminateExit)
	if !ok {
		return
	}

	err := p.Signal(syscall.SIGTERM)
	if err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return
		}
		// Platforms without SIGTERM support.
		s.logger.Debugf("Could not send SIGTERM, killing: %s", err)
		s.killProcess(p)
		return
	}

	go func() {
		t := time.NewTimer(s.killGrace)
		defer t.Stop()
		select {
		case <-s.exitedC:
		case <-t.C:
			s.logger.Debugf("Process didn't exit after %s, killing", s.killGrace)
			s.killProcess(p)
		}
	}()
}

// Kill forces the process termination. It's best-effort, safe to call multiple times,
// concurrently and on statuses whose process never started.
func (s *Status) Kill() {
	p, ok := s.processForTermination(terminateKill)
	if !ok {
		return
	}
	s.killProcess(p)
}

func (s *Status) killProcess(p *os.Process) {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debugf("Could not kill process: %s", err)
	}
}

// processForTermination returns the process to terminate, if there is no process yet
// the termination is recorded so it's applied when the process is attached.
func (s *Status) processForTermination(mode terminateMode) (*os.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exited {
		return nil, false
	}

	if s.process == nil {
		if mode > s.terminate {
			s.terminate = mode
		}
		return nil, false
	}

	if mode == terminateExit {
		if s.exitRequested {
			return nil, false
		}
		s.exitRequested = true
	}

	return s.process, true
}

// closeDone must be called with the lock held.
func (s *Status) closeDone() {
	if s.doneClosed {
		return
	}
	s.doneClosed = true
	close(s.done)
}
