package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/slok/wxpipe/internal/model"
)

// SaveAttempt creates or replaces an attempt. The run must exist.
func (r *Repository) SaveAttempt(ctx context.Context, a model.Attempt) error {
	query := `
		INSERT INTO attempts (
			id, run_id, pipeline, stage, number, script,
			exited, exit_code, progress,
			last_progress_message, last_output_message, last_error_message,
			started_at, finished_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exited = excluded.exited,
			exit_code = excluded.exit_code,
			progress = excluded.progress,
			last_progress_message = excluded.last_progress_message,
			last_output_message = excluded.last_output_message,
			last_error_message = excluded.last_error_message,
			finished_at = excluded.finished_at
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID,
		a.RunID,
		a.Pipeline,
		a.Stage,
		a.Number,
		a.Script,
		a.Exited,
		a.ExitCode,
		a.Progress,
		a.LastProgressMessage,
		a.LastOutputMessage,
		a.LastErrorMessage,
		a.StartedAt.UnixMilli(),
		unixMilliOrNil(a.FinishedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return fmt.Errorf("run %s: %w", a.RunID, model.ErrNotFound)
		}
		return fmt.Errorf("could not save attempt: %w", err)
	}

	r.logger.Debugf("Saved attempt %s (run %s)", a.ID, a.RunID)
	return nil
}

// ListAttempts returns the attempts of a run in start order.
func (r *Repository) ListAttempts(ctx context.Context, runID string) ([]model.Attempt, error) {
	query := `
		SELECT
			id, run_id, pipeline, stage, number, script,
			exited, exit_code, progress,
			last_progress_message, last_output_message, last_error_message,
			started_at, finished_at
		FROM attempts
		WHERE run_id = ?
		ORDER BY started_at ASC, id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("could not query attempts: %w", err)
	}
	defer rows.Close()

	attempts := []model.Attempt{}
	for rows.Next() {
		var a model.Attempt
		var startedAt int64
		var finishedAt sql.NullInt64
		err := rows.Scan(
			&a.ID,
			&a.RunID,
			&a.Pipeline,
			&a.Stage,
			&a.Number,
			&a.Script,
			&a.Exited,
			&a.ExitCode,
			&a.Progress,
			&a.LastProgressMessage,
			&a.LastOutputMessage,
			&a.LastErrorMessage,
			&startedAt,
			&finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		a.StartedAt = timeFromUnixMilli(startedAt)
		a.FinishedAt = timePtrFromNull(finishedAt)
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return attempts, nil
}
