package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/slok/wxpipe/internal/model"
)

// TablePrinter prints run history in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintRunList prints runs in a table format.
func (t *TablePrinter) PrintRunList(runs []model.Run) error {
	if len(runs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tSTATE\tPIPELINES\tDURATION\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.State,
			strings.Join(r.Pipelines, ","),
			FormatElapsed(r.CreatedAt, r.FinishedAt),
			TimeAgo(r.CreatedAt),
		)
	}

	return nil
}

// PrintRunStatus prints a run with all its script attempts.
func (t *TablePrinter) PrintRunStatus(run model.Run, attempts []model.Attempt) error {
	fmt.Fprintf(t.writer, "ID:         %s\n", run.ID)
	fmt.Fprintf(t.writer, "State:      %s\n", run.State)
	fmt.Fprintf(t.writer, "Pipelines:  %s\n", strings.Join(run.Pipelines, ", "))
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(run.CreatedAt))
	if run.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:   %s\n", FormatTimestamp(*run.FinishedAt))
		fmt.Fprintf(t.writer, "Duration:   %s\n", FormatElapsed(run.CreatedAt, run.FinishedAt))
	}

	if len(attempts) == 0 {
		return nil
	}

	fmt.Fprintln(t.writer)
	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "PIPELINE\tSTAGE\tATTEMPT\tSCRIPT\tEXIT\tPROGRESS\tDURATION\tMESSAGE")
	for _, a := range attempts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%.0f%%\t%s\t%s\n",
			a.Pipeline,
			a.Stage,
			a.Number,
			a.Script,
			exitCodeText(a),
			a.Progress,
			FormatElapsed(a.StartedAt, a.FinishedAt),
			attemptMessage(a),
		)
	}

	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func exitCodeText(a model.Attempt) string {
	if !a.Exited {
		return "-"
	}
	return fmt.Sprintf("%d", a.ExitCode)
}

// attemptMessage prefers the error line on failed attempts.
func attemptMessage(a model.Attempt) string {
	if a.Exited && a.ExitCode != 0 && a.LastErrorMessage != "" {
		return a.LastErrorMessage
	}
	if a.LastProgressMessage != "" {
		return a.LastProgressMessage
	}
	return a.LastOutputMessage
}
