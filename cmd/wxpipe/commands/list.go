package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wxpipe/internal/app/list"
	"github.com/slok/wxpipe/internal/model"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	stateFilter string
	limit       int
	format      string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List the recorded runs, newest first.")
	c.Cmd.Flag("state", "Filter by state (in_progress, success, failure, cancelled).").StringVar(&c.stateFilter)
	c.Cmd.Flag("limit", "Max number of runs, 0 lists all of them.").Default("0").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var stateFilter *model.State
	if c.stateFilter != "" {
		state := model.State(strings.ToLower(c.stateFilter))
		stateFilter = &state
	}

	repo, err := c.rootCmd.openRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	runs, err := svc.Run(ctx, list.Request{
		StateFilter: stateFilter,
		Limit:       c.limit,
	})
	if err != nil {
		return fmt.Errorf("could not list runs: %w", err)
	}

	if err := c.rootCmd.printer(c.format).PrintRunList(runs); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}
