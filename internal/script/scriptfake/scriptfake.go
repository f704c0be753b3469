// Package scriptfake has a script runner that doesn't spawn processes, useful to test
// the components that orchestrate scripts.
package scriptfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/wxpipe/internal/script"
)

// Outcome is how a fake script run behaves.
type Outcome struct {
	// Lines are the stdout lines the script writes.
	Lines []string
	// ErrLines are the stderr lines the script writes.
	ErrLines []string
	// ExitCode is the code the script exits with.
	ExitCode int
	// Block makes the script run until it's asked to exit or the context is done,
	// then it exits with ExitCode.
	Block bool
}

// Call is a recorded RunScript call.
type Call struct {
	Script string
	Args   string
	Status *script.Status
}

// Runner is a fake script.Runner. Every call to a script consumes the next outcome
// registered for it, the last one is reused when exhausted.
type Runner struct {
	mu       sync.Mutex
	outcomes map[string][]Outcome
	calls    []Call
	// OnRun is called with every launched status before it starts running.
	OnRun func(c Call)
}

// NewRunner returns a new fake runner.
func NewRunner() *Runner {
	return &Runner{outcomes: map[string][]Outcome{}}
}

// On registers the outcomes of the consecutive runs of a script.
func (r *Runner) On(scriptPath string, outcomes ...Outcome) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[scriptPath] = append(r.outcomes[scriptPath], outcomes...)
	return r
}

// OnExitCodes registers runs of a script that only exit with the codes.
func (r *Runner) OnExitCodes(scriptPath string, codes ...int) *Runner {
	outcomes := make([]Outcome, 0, len(codes))
	for _, c := range codes {
		outcomes = append(outcomes, Outcome{ExitCode: c})
	}
	return r.On(scriptPath, outcomes...)
}

// Calls returns the recorded calls.
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the number of runs of a script.
func (r *Runner) CallsOf(scriptPath string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Script == scriptPath {
			n++
		}
	}
	return n
}

// RunScript satisfies script.Runner.
func (r *Runner) RunScript(ctx context.Context, scriptPath, args string) *script.Status {
	st := script.NewStatus(script.StatusConfig{Script: scriptPath})
	call := Call{Script: scriptPath, Args: args, Status: st}

	r.mu.Lock()
	outcome, ok := r.next(scriptPath)
	r.calls = append(r.calls, call)
	onRun := r.OnRun
	r.mu.Unlock()

	if onRun != nil {
		onRun(call)
	}

	if !ok {
		go func() {
			st.HandleErrorLine(fmt.Sprintf("unknown fake script %q", scriptPath))
			st.MarkExited(script.ExitCodeSpawnFailure)
		}()
		return st
	}

	go func() {
		for _, l := range outcome.Lines {
			st.HandleOutputLine(l)
		}
		for _, l := range outcome.ErrLines {
			st.HandleErrorLine(l)
		}

		if outcome.Block {
			select {
			case <-ctx.Done():
			case <-st.Exited():
				return
			}
		}
		st.MarkExited(outcome.ExitCode)
	}()

	return st
}

// next must be called with the lock held.
func (r *Runner) next(scriptPath string) (Outcome, bool) {
	outs := r.outcomes[scriptPath]
	if len(outs) == 0 {
		return Outcome{}, false
	}

	o := outs[0]
	if len(outs) > 1 {
		r.outcomes[scriptPath] = outs[1:]
	}
	return o, true
}

var _ script.Runner = &Runner{}
