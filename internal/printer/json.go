package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/slok/wxpipe/internal/model"
)

// JSONPrinter prints run history in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type runOutput struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Pipelines  []string   `json:"pipelines"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

type runStatusOutput struct {
	runOutput
	Attempts []attemptOutput `json:"attempts"`
}

type attemptOutput struct {
	ID                  string     `json:"id"`
	Pipeline            string     `json:"pipeline"`
	Stage               string     `json:"stage"`
	Number              int        `json:"number"`
	Script              string     `json:"script"`
	Exited              bool       `json:"exited"`
	ExitCode            int        `json:"exit_code"`
	Progress            float64    `json:"progress"`
	LastProgressMessage string     `json:"last_progress_message,omitempty"`
	LastOutputMessage   string     `json:"last_output_message,omitempty"`
	LastErrorMessage    string     `json:"last_error_message,omitempty"`
	StartedAt           time.Time  `json:"started_at"`
	FinishedAt          *time.Time `json:"finished_at"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintRunList prints runs in JSON format.
func (j *JSONPrinter) PrintRunList(runs []model.Run) error {
	items := make([]runOutput, 0, len(runs))
	for _, r := range runs {
		items = append(items, newRunOutput(r))
	}

	return j.encode(items)
}

// PrintRunStatus prints a run with its attempts in JSON format.
func (j *JSONPrinter) PrintRunStatus(run model.Run, attempts []model.Attempt) error {
	output := runStatusOutput{
		runOutput: newRunOutput(run),
		Attempts:  make([]attemptOutput, 0, len(attempts)),
	}
	for _, a := range attempts {
		output.Attempts = append(output.Attempts, attemptOutput{
			ID:                  a.ID,
			Pipeline:            a.Pipeline,
			Stage:               a.Stage,
			Number:              a.Number,
			Script:              a.Script,
			Exited:              a.Exited,
			ExitCode:            a.ExitCode,
			Progress:            a.Progress,
			LastProgressMessage: a.LastProgressMessage,
			LastOutputMessage:   a.LastOutputMessage,
			LastErrorMessage:    a.LastErrorMessage,
			StartedAt:           a.StartedAt.UTC(),
			FinishedAt:          utcPtr(a.FinishedAt),
		})
	}

	return j.encode(output)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunOutput(r model.Run) runOutput {
	pipelines := r.Pipelines
	if pipelines == nil {
		pipelines = []string{}
	}

	return runOutput{
		ID:         r.ID,
		State:      string(r.State),
		Pipelines:  pipelines,
		CreatedAt:  r.CreatedAt.UTC(),
		FinishedAt: utcPtr(r.FinishedAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
