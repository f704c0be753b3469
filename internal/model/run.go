package model

import "time"

// Run is the recorded history of one orchestrator run.
type Run struct {
	ID         string
	State      State
	Pipelines  []string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Attempt is the recorded history of one script launch inside a stage.
type Attempt struct {
	ID                  string
	RunID               string
	Pipeline            string
	Stage               string
	Number              int
	Script              string
	Exited              bool
	ExitCode            int
	Progress            float64
	LastProgressMessage string
	LastOutputMessage   string
	LastErrorMessage    string
	StartedAt           time.Time
	FinishedAt          *time.Time
}
