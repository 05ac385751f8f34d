package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// MockSourceDatabase is a mock implementation of out.SourceDatabase.
type MockSourceDatabase struct {
	mock.Mock
}

// NewMockSourceDatabase creates a mock whose expectations are asserted when the test ends.
func NewMockSourceDatabase(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockSourceDatabase {
	m := &MockSourceDatabase{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockSourceDatabase) ServerVersion(ctx context.Context, src domain.SourceDatabase) (string, error) {
	args := m.Called(ctx, src)
	return args.String(0), args.Error(1)
}

func (m *MockSourceDatabase) ListDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error) {
	args := m.Called(ctx, src)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LocalDatabase), args.Error(1)
}

func (m *MockSourceDatabase) DropDatabase(ctx context.Context, src domain.SourceDatabase, name string) error {
	args := m.Called(ctx, src, name)
	return args.Error(0)
}

// MockMetricsRecorder is a mock implementation of out.MetricsRecorder.
type MockMetricsRecorder struct {
	mock.Mock
}

func (m *MockMetricsRecorder) MigrationFinished(success bool, took time.Duration) {
	m.Called(success, took)
}

func (m *MockMetricsRecorder) ImagePulled(success bool) {
	m.Called(success)
}

func (m *MockMetricsRecorder) ContainerSampled(stats domain.ContainerStats) {
	m.Called(stats)
}
