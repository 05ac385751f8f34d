// Package mocks provides testify mocks for the output ports.
package mocks

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// MockContainerRuntime is a mock implementation of out.ContainerRuntime.
type MockContainerRuntime struct {
	mock.Mock
}

// NewMockContainerRuntime creates a mock whose expectations are asserted when the test ends.
func NewMockContainerRuntime(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockContainerRuntime {
	m := &MockContainerRuntime{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Container lifecycle
func (m *MockContainerRuntime) CreateContainer(ctx context.Context, spec *domain.ContainerSpec) (*domain.Container, error) {
	args := m.Called(ctx, spec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) StartContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) StopContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) RestartContainer(ctx context.Context, containerID string) error {
	args := m.Called(ctx, containerID)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveContainer(ctx context.Context, containerID string, force, removeVolumes bool) error {
	args := m.Called(ctx, containerID, force, removeVolumes)
	return args.Error(0)
}

func (m *MockContainerRuntime) RenameContainer(ctx context.Context, containerID, newName string) error {
	args := m.Called(ctx, containerID, newName)
	return args.Error(0)
}

// Container inspection
func (m *MockContainerRuntime) ListContainers(ctx context.Context, all bool, labels map[string]string) ([]*domain.Container, error) {
	args := m.Called(ctx, all, labels)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Container), args.Error(1)
}

func (m *MockContainerRuntime) InspectContainer(ctx context.Context, containerID string) (*domain.ContainerDetails, error) {
	args := m.Called(ctx, containerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContainerDetails), args.Error(1)
}

func (m *MockContainerRuntime) GetContainerLogs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error) {
	args := m.Called(ctx, containerID, tail)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LogEntry), args.Error(1)
}

func (m *MockContainerRuntime) ContainerStats(ctx context.Context, containerID string) (*domain.StatsSnapshot, error) {
	args := m.Called(ctx, containerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StatsSnapshot), args.Error(1)
}

// Image operations
func (m *MockContainerRuntime) ListImages(ctx context.Context) ([]domain.ImageDetail, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ImageDetail), args.Error(1)
}

func (m *MockContainerRuntime) PullImage(ctx context.Context, image string, progress func(domain.PullProgress)) error {
	args := m.Called(ctx, image, progress)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveImage(ctx context.Context, image string, force bool) error {
	args := m.Called(ctx, image, force)
	return args.Error(0)
}

// In-container operations
func (m *MockContainerRuntime) ExecInContainer(ctx context.Context, containerID string, cmd []string, env []string) (*domain.ExecResult, error) {
	args := m.Called(ctx, containerID, cmd, env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExecResult), args.Error(1)
}

func (m *MockContainerRuntime) CopyToContainer(ctx context.Context, containerID, dstDir string, tarArchive io.Reader) error {
	args := m.Called(ctx, containerID, dstDir, tarArchive)
	return args.Error(0)
}

func (m *MockContainerRuntime) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	args := m.Called(ctx, containerID, srcPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Volume management
func (m *MockContainerRuntime) ListVolumes(ctx context.Context) ([]domain.VolumeInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VolumeInfo), args.Error(1)
}

func (m *MockContainerRuntime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	args := m.Called(ctx, name, labels)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveVolume(ctx context.Context, name string, force bool) error {
	args := m.Called(ctx, name, force)
	return args.Error(0)
}

func (m *MockContainerRuntime) PruneVolumes(ctx context.Context) (*domain.PruneReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PruneReport), args.Error(1)
}

// Network management
func (m *MockContainerRuntime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	args := m.Called(ctx, name, labels)
	return args.Error(0)
}

func (m *MockContainerRuntime) RemoveNetwork(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockContainerRuntime) ListNetworks(ctx context.Context) ([]*domain.NetworkInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.NetworkInfo), args.Error(1)
}

// Runtime information
func (m *MockContainerRuntime) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockContainerRuntime) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
