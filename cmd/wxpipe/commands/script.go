package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/alecthomas/kingpin/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/script"
	utilsenv "github.com/slok/wxpipe/internal/utils/env"
)

type ScriptCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	scriptPath     string
	args           []string
	interpreter    string
	unbufferedFlag string
	workingDir     string
	envSpecs       []string
}

// NewScriptCommand returns the script command.
func NewScriptCommand(rootCmd *RootCommand, app *kingpin.Application) *ScriptCommand {
	c := &ScriptCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("script", "Run a single script streaming its output and progress.")
	c.Cmd.Arg("script", "Script path.").Required().StringVar(&c.scriptPath)
	c.Cmd.Arg("args", "Script arguments.").StringsVar(&c.args)
	c.Cmd.Flag("interpreter", "Script interpreter.").Default("python").StringVar(&c.interpreter)
	c.Cmd.Flag("unbuffered-flag", "Interpreter flag for unbuffered output, empty disables it.").Default(model.DefaultUnbufferedFlag).StringVar(&c.unbufferedFlag)
	c.Cmd.Flag("working-dir", "Script working directory.").StringVar(&c.workingDir)
	c.Cmd.Flag("env", "Script environment variable (KEY=VALUE or KEY to inherit from the host). Repeatable.").StringsVar(&c.envSpecs)

	return c
}

func (c ScriptCommand) Name() string { return c.Cmd.FullCommand() }

func (c ScriptCommand) Run(ctx context.Context) error {
	env, err := utilsenv.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid env: %w", err)
	}

	l, err := script.NewLauncher(script.LauncherConfig{
		Interpreter:    c.interpreter,
		UnbufferedFlag: c.unbufferedFlag,
		WorkingDir:     c.workingDir,
		Env:            env,
		Logger:         c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create launcher: %w", err)
	}

	r := lipgloss.NewRenderer(c.rootCmd.Stdout)
	if c.rootCmd.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}
	progressStyle := r.NewStyle().Foreground(lipgloss.Color("99"))
	errStyle := r.NewStyle().Foreground(lipgloss.Color("204"))

	// Hooks are called from the stdout and stderr readers concurrently.
	var mu sync.Mutex
	printLine := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(c.rootCmd.Stdout, s)
	}

	st := l.RunScriptWithHooks(ctx, c.scriptPath, shellJoin(c.args), script.Hooks{
		OnOutput: printLine,
		OnError:  func(line string) { printLine(errStyle.Render(line)) },
		OnProgress: func(progress float64, message string) {
			printLine(progressStyle.Render(fmt.Sprintf("[%3.0f%%] %s", progress, message)))
		},
	})
	<-st.Exited()

	code := st.ExitCode()
	c.rootCmd.Logger.Debugf("Script exited with code %d", code)
	if ctx.Err() != nil {
		return fmt.Errorf("script stopped: %w", model.ErrCancelled)
	}
	c.rootCmd.ExitCode = code

	return nil
}

// shellJoin quotes the arguments so they are split back to the same words.
func shellJoin(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		if a != "" && !strings.ContainsAny(a, " \t\n'\"\\$`;&|<>") {
			quoted = append(quoted, a)
			continue
		}
		quoted = append(quoted, "'"+strings.ReplaceAll(a, "'", `'"'"'`)+"'")
	}
	return strings.Join(quoted, " ")
}
