package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/wxpipe/internal/log"
	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
	"github.com/slok/wxpipe/internal/storage/sqlite"
)

var t0 = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func runFixture(id string, state model.State, createdAt time.Time) model.Run {
	return model.Run{
		ID:        id,
		State:     state,
		Pipelines: []string{"radar", "clouds"},
		CreatedAt: createdAt,
	}
}

func attemptFixture(id, runID string, number int, startedAt time.Time) model.Attempt {
	return model.Attempt{
		ID:        id,
		RunID:     runID,
		Pipeline:  "clouds",
		Stage:     "download",
		Number:    number,
		Script:    "Python/CloudDataDownload.py",
		ExitCode:  -1,
		StartedAt: startedAt,
	}
}

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{
		DBPath: filepath.Join(t.TempDir(), "nested", "test.db"),
		Logger: log.Noop,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestNewRepositoryInvalidConfig(t *testing.T) {
	_, err := sqlite.NewRepository(context.Background(), sqlite.RepositoryConfig{})
	assert.Error(t, err)
}

func TestRepositoryReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", model.StateInProgress, t0)))
	require.NoError(t, repo.Close())

	// Migrations on an up to date schema are a no-op.
	repo, err = sqlite.NewRepository(ctx, sqlite.RepositoryConfig{DBPath: path})
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
}

func TestRepositoryRuns(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	run := runFixture("run-1", model.StateInProgress, t0)
	require.NoError(t, repo.CreateRun(ctx, run))

	got, err := repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, *got)

	finishedAt := t0.Add(90 * time.Second)
	run.State = model.StateFailure
	run.FinishedAt = &finishedAt
	require.NoError(t, repo.UpdateRun(ctx, run))

	got, err = repo.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StateFailure, got.State)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, finishedAt, *got.FinishedAt)

	err = repo.CreateRun(ctx, run)
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	err = repo.UpdateRun(ctx, runFixture("run-x", model.StateSuccess, t0))
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = repo.GetRun(ctx, "run-x")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoryListRuns(t *testing.T) {
	tests := map[string]struct {
		opts   storage.ListRunsOpts
		expIDs []string
	}{
		"Without filters should list all the runs newest first.": {
			opts:   storage.ListRunsOpts{},
			expIDs: []string{"run-3", "run-2", "run-1"},
		},

		"Filtering by state should return only those runs.": {
			opts:   storage.ListRunsOpts{State: model.StateSuccess},
			expIDs: []string{"run-3", "run-1"},
		},

		"Filtering by a state without runs should return empty.": {
			opts:   storage.ListRunsOpts{State: model.StateCancelled},
			expIDs: []string{},
		},

		"Limit should return the newest runs.": {
			opts:   storage.ListRunsOpts{Limit: 2},
			expIDs: []string{"run-3", "run-2"},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)
			ctx := context.Background()

			repo := newRepo(t)
			require.NoError(repo.CreateRun(ctx, runFixture("run-1", model.StateSuccess, t0)))
			require.NoError(repo.CreateRun(ctx, runFixture("run-2", model.StateFailure, t0.Add(time.Minute))))
			require.NoError(repo.CreateRun(ctx, runFixture("run-3", model.StateSuccess, t0.Add(2*time.Minute))))

			runs, err := repo.ListRuns(ctx, test.opts)
			require.NoError(err)

			ids := []string{}
			for _, r := range runs {
				ids = append(ids, r.ID)
			}
			assert.Equal(test.expIDs, ids)
		})
	}
}

func TestRepositoryAttempts(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	require.NoError(t, repo.CreateRun(ctx, runFixture("run-1", model.StateInProgress, t0)))
	require.NoError(t, repo.CreateRun(ctx, runFixture("run-2", model.StateInProgress, t0)))

	a1 := attemptFixture("att-1", "run-1", 1, t0.Add(time.Second))
	a2 := attemptFixture("att-2", "run-1", 2, t0.Add(3*time.Second))
	other := attemptFixture("att-3", "run-2", 1, t0)
	require.NoError(t, repo.SaveAttempt(ctx, a2))
	require.NoError(t, repo.SaveAttempt(ctx, a1))
	require.NoError(t, repo.SaveAttempt(ctx, other))

	// Finish the first attempt.
	finishedAt := t0.Add(2 * time.Second)
	a1.Exited = true
	a1.ExitCode = 1
	a1.Progress = 42.5
	a1.LastProgressMessage = "Downloading"
	a1.LastOutputMessage = "out"
	a1.LastErrorMessage = "connection reset"
	a1.FinishedAt = &finishedAt
	require.NoError(t, repo.SaveAttempt(ctx, a1))

	got, err := repo.ListAttempts(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []model.Attempt{a1, a2}, got)

	got, err = repo.ListAttempts(ctx, "run-x")
	require.NoError(t, err)
	assert.Empty(t, got)

	err = repo.SaveAttempt(ctx, attemptFixture("att-x", "run-x", 1, t0))
	assert.ErrorIs(t, err, model.ErrNotFound)
}
