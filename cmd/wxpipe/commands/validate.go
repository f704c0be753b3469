package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wxpipe/internal/app/probe"
	"github.com/slok/wxpipe/internal/model"
)

type ValidateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	interpreter    string
	unbufferedFlag string
	workingDir     string
	probeScript    string
	timeout        time.Duration
	format         string
}

// NewValidateCommand returns the validate command.
func NewValidateCommand(rootCmd *RootCommand, app *kingpin.Application) *ValidateCommand {
	c := &ValidateCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("validate", "Validate a script interpreter running a probe script with it.")
	c.Cmd.Arg("interpreter", "Interpreter executable path or name.").Required().StringVar(&c.interpreter)
	c.Cmd.Flag("probe", "Probe script, it must report the interpreter description as a progress message.").Default(probe.DefaultProbeScript).StringVar(&c.probeScript)
	c.Cmd.Flag("unbuffered-flag", "Interpreter flag for unbuffered output, empty disables it.").Default(model.DefaultUnbufferedFlag).StringVar(&c.unbufferedFlag)
	c.Cmd.Flag("working-dir", "Probe working directory.").StringVar(&c.workingDir)
	c.Cmd.Flag("timeout", "Max time the probe can take.").Default("30s").DurationVar(&c.timeout)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ValidateCommand) Name() string { return c.Cmd.FullCommand() }

func (c ValidateCommand) Run(ctx context.Context) error {
	svc, err := probe.NewService(probe.ServiceConfig{
		Timeout: c.timeout,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, probe.Request{
		Interpreter:    c.interpreter,
		UnbufferedFlag: c.unbufferedFlag,
		WorkingDir:     c.workingDir,
		ProbeScript:    c.probeScript,
	})
	if err != nil {
		return fmt.Errorf("could not validate interpreter: %w", err)
	}

	msg := fmt.Sprintf("Invalid interpreter %s: %s", c.interpreter, res.Message)
	if res.Valid {
		msg = fmt.Sprintf("Valid interpreter %s: %s", res.Interpreter, res.Message)
	} else {
		c.rootCmd.ExitCode = 1
	}

	if err := c.rootCmd.printer(c.format).PrintMessage(msg); err != nil {
		return fmt.Errorf("could not print result: %w", err)
	}

	return nil
}
