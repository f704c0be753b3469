package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wxpipe/internal/app/status"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	runID  string
	format string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Get the detailed status of a recorded run.")
	c.Cmd.Arg("run-id", `Run ID, "latest" for the last run.`).Default(status.LatestRunID).StringVar(&c.runID)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	repo, err := c.rootCmd.openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := status.NewService(status.ServiceConfig{
		Repository: repo,
		Logger:     c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	resp, err := svc.Run(ctx, status.Request{RunID: c.runID})
	if err != nil {
		return fmt.Errorf("could not get run status: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintRunStatus(resp.Run, resp.Attempts); err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
