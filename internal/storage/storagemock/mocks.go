// Package storagemock has testify mocks of the storage interfaces.
package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/slok/wxpipe/internal/model"
	"github.com/slok/wxpipe/internal/storage"
)

// MockRepository is a mock of storage.Repository.
type MockRepository struct {
	mock.Mock
}

// CreateRun provides a mock function.
func (m *MockRepository) CreateRun(ctx context.Context, r model.Run) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// UpdateRun provides a mock function.
func (m *MockRepository) UpdateRun(ctx context.Context, r model.Run) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// GetRun provides a mock function.
func (m *MockRepository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	args := m.Called(ctx, id)
	var r *model.Run
	if v := args.Get(0); v != nil {
		r = v.(*model.Run)
	}
	return r, args.Error(1)
}

// ListRuns provides a mock function.
func (m *MockRepository) ListRuns(ctx context.Context, opts storage.ListRunsOpts) ([]model.Run, error) {
	args := m.Called(ctx, opts)
	var rs []model.Run
	if v := args.Get(0); v != nil {
		rs = v.([]model.Run)
	}
	return rs, args.Error(1)
}

// SaveAttempt provides a mock function.
func (m *MockRepository) SaveAttempt(ctx context.Context, a model.Attempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

// ListAttempts provides a mock function.
func (m *MockRepository) ListAttempts(ctx context.Context, runID string) ([]model.Attempt, error) {
	args := m.Called(ctx, runID)
	var as []model.Attempt
	if v := args.Get(0); v != nil {
		as = v.([]model.Attempt)
	}
	return as, args.Error(1)
}

var _ storage.Repository = &MockRepository{}
