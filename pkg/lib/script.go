package lib

import (
	"context"

	"github.com/slok/wxpipe/internal/script"
)

// ScriptHooks are the callbacks of a script status observer. All of them are optional.
//
// Hooks are called in the same order the events were observed and must not call
// methods of the status that fired them.
type ScriptHooks struct {
	OnProgress func(progress float64, message string)
	OnOutput   func(line string)
	OnError    func(line string)
	OnExit     func(code int)
}

func (h ScriptHooks) toInternal() script.Hooks {
	return script.Hooks{
		OnProgress: h.OnProgress,
		OnOutput:   h.OnOutput,
		OnError:    h.OnError,
		OnExit:     h.OnExit,
	}
}

// ScriptStatus is the live status of a launched script.
type ScriptStatus struct {
	st *script.Status
}

// RunScript launches the script in the background and returns its status right away.
// Spawn failures are reported as an exit code of 127 with the reason as the last error
// message. Cancelling ctx stops the script.
func (c *Client) RunScript(ctx context.Context, path, args string) *ScriptStatus {
	return &ScriptStatus{st: c.launcher.RunScript(ctx, path, args)}
}

// RunScriptWithHooks is like [Client.RunScript] but the hooks observe the script from
// its first line.
func (c *Client) RunScriptWithHooks(ctx context.Context, path, args string, hooks ScriptHooks) *ScriptStatus {
	return &ScriptStatus{st: c.launcher.RunScriptWithHooks(ctx, path, args, hooks.toInternal())}
}

// ID returns the status unique ID.
func (s *ScriptStatus) ID() string { return s.st.ID() }

// Script returns the script path.
func (s *ScriptStatus) Script() string { return s.st.Script() }

// Progress returns the last reported progress, 0 until the script reports one.
func (s *ScriptStatus) Progress() float64 { return s.st.Progress() }

// LastProgressMessage returns the last progress message, empty if none.
func (s *ScriptStatus) LastProgressMessage() string { return s.st.LastProgressMessage() }

// LastOutputMessage returns the last plain output line, empty if none.
func (s *ScriptStatus) LastOutputMessage() string { return s.st.LastOutputMessage() }

// LastErrorMessage returns the last error line, empty if none.
func (s *ScriptStatus) LastErrorMessage() string { return s.st.LastErrorMessage() }

// HasFinished returns true when the script exited or reported a progress of 100.
func (s *ScriptStatus) HasFinished() bool { return s.st.HasFinished() }

// HasExited returns true when the script process exited.
func (s *ScriptStatus) HasExited() bool { return s.st.HasExited() }

// ExitCode returns the exit code, -1 while the script is running.
func (s *ScriptStatus) ExitCode() int { return s.st.ExitCode() }

// Done returns a channel closed when the script finishes (see HasFinished).
func (s *ScriptStatus) Done() <-chan struct{} { return s.st.Done() }

// Exited returns a channel closed when the script process exits.
func (s *ScriptStatus) Exited() <-chan struct{} { return s.st.Exited() }

// Wait blocks until the script exits and returns its exit code.
func (s *ScriptStatus) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.st.Exited():
		return s.st.ExitCode(), nil
	case <-ctx.Done():
		return s.st.ExitCode(), ctx.Err()
	}
}

// Subscribe registers hooks and returns a function to unregister them.
func (s *ScriptStatus) Subscribe(hooks ScriptHooks) (unsubscribe func()) {
	return s.st.Subscribe(hooks.toInternal())
}

// Exit asks the script to terminate, it's killed if it doesn't exit in a few seconds.
func (s *ScriptStatus) Exit() { s.st.Exit() }

// Kill forces the script termination.
func (s *ScriptStatus) Kill() { s.st.Kill() }
