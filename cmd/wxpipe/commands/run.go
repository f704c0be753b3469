package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/wxpipe/internal/app/load"
	"github.com/slok/wxpipe/internal/conventions"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/pipeline"
	"github.com/slok/wxpipe/internal/printer"
	"github.com/slok/wxpipe/internal/storage"
	storageio "github.com/slok/wxpipe/internal/storage/io"
	utilsenv "github.com/slok/wxpipe/internal/utils/env"
)

const timestampNow = "now"

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	configPath  string
	interpreter string
	timestamp   string
	envSpecs    []string
	noHistory   bool
	noProgress  bool
	refresh     time.Duration
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Run all the configured pipelines concurrently.")
	c.Cmd.Flag("config", "Pipelines YAML configuration file.").Short('c').Default(conventions.DefaultConfigFile).StringVar(&c.configPath)
	c.Cmd.Flag("interpreter", "Overrides the configured script interpreter.").StringVar(&c.interpreter)
	c.Cmd.Flag("timestamp", `Data timestamp (RFC3339 or "now") appended to every stage arguments.`).StringVar(&c.timestamp)
	c.Cmd.Flag("env", "Script environment variable (KEY=VALUE or KEY to inherit from the host). Repeatable.").StringsVar(&c.envSpecs)
	c.Cmd.Flag("no-history", "Don't record the run in the history database.").BoolVar(&c.noHistory)
	c.Cmd.Flag("no-progress", "Don't draw the live progress bars.").BoolVar(&c.noProgress)
	c.Cmd.Flag("refresh", "Progress bars refresh interval.").Default("200ms").DurationVar(&c.refresh)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	env, err := utilsenv.ParseSpecs(c.envSpecs)
	if err != nil {
		return fmt.Errorf("invalid env: %w", err)
	}

	extraArgs, err := formatTimestamp(c.timestamp, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, c.configPath)
	if err != nil {
		return err
	}
	if c.interpreter != "" {
		cfg.Invocation.Interpreter = c.interpreter
	}

	var repo storage.Repository
	if !c.noHistory {
		r, err := c.rootCmd.openRepository(ctx)
		if err != nil {
			return err
		}
		defer r.Close()
		repo = r
	}

	svc, err := load.NewService(load.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	run, err := svc.Start(ctx, load.Request{
		Config:    cfg,
		ExtraArgs: extraArgs,
		Env:       env,
	})
	if err != nil {
		return fmt.Errorf("could not start run: %w", err)
	}

	live, err := printer.NewLivePrinter(printer.LiveConfig{
		Writer:  c.rootCmd.Stdout,
		NoColor: c.rootCmd.NoColor,
	})
	if err != nil {
		return fmt.Errorf("could not create progress printer: %w", err)
	}

	// The orchestrator stops on ctx cancellation, we always wait for it to finish.
	if !c.noProgress {
		t := time.NewTicker(c.refresh)
		defer t.Stop()
	loop:
		for {
			if err := live.Draw(pipelineViews(run.Orchestrator)); err != nil {
				logger.Warningf("Could not draw progress: %s", err)
			}
			select {
			case <-run.Orchestrator.Terminal():
				break loop
			case <-t.C:
			}
		}
	}
	<-run.Orchestrator.Terminal()

	// A failed run can't change its state, the pipelines still running are stopped so
	// the command ends and the history is stored.
	if run.Orchestrator.CurrentState() == model.StateFailure {
		select {
		case <-run.Orchestrator.Done():
		default:
			logger.Infof("Run failed, stopping the remaining pipelines")
			run.Orchestrator.Cancel()
		}
	}
	<-run.Orchestrator.Done()

	state := run.Orchestrator.CurrentState()
	if !c.noProgress {
		if err := live.Draw(pipelineViews(run.Orchestrator)); err != nil {
			logger.Warningf("Could not draw progress: %s", err)
		}
	}
	fmt.Fprintf(c.rootCmd.Stdout, "%s (run %s)\n", live.Summary(state), run.ID)

	if state != model.StateSuccess {
		c.rootCmd.ExitCode = 1
	}

	return nil
}

func loadConfig(ctx context.Context, path string) (model.LoadConfig, error) {
	dir := filepath.Dir(path)
	repo := storageio.NewPipelinesYAMLRepository(os.DirFS(dir))
	cfg, err := repo.GetLoadConfig(ctx, filepath.Base(path))
	if err != nil {
		return model.LoadConfig{}, fmt.Errorf("could not load pipelines config: %w", err)
	}

	// Relative working directories are relative to the configuration file.
	wd := cfg.Invocation.WorkingDir
	if wd != "" && !filepath.IsAbs(wd) {
		cfg.Invocation.WorkingDir = filepath.Join(dir, wd)
	}

	return cfg, nil
}

// formatTimestamp returns the timestamp argument in RFC3339 UTC, empty when unset.
func formatTimestamp(ts string, now time.Time) (string, error) {
	ts = strings.TrimSpace(ts)
	switch ts {
	case "":
		return "", nil
	case timestampNow:
		return now.UTC().Format(time.RFC3339), nil
	}

	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp %q: %w", ts, model.ErrNotValid)
	}
	return t.UTC().Format(time.RFC3339), nil
}

func pipelineViews(o *pipeline.Orchestrator) []printer.PipelineView {
	names := o.Pipelines()
	views := make([]printer.PipelineView, 0, len(names))
	for _, name := range names {
		v := printer.PipelineView{Name: name}
		if st, err := o.PipelineState(name); err == nil {
			v.State = st
		}
		if bar, err := o.Bar(name); err == nil {
			v.Bar = bar.Snapshot()
		}
		views = append(views, v)
	}
	return views
}
