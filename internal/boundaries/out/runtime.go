// Package out defines output ports (interfaces) for infrastructure.
// These interfaces define the contract between use cases and driven adapters
// (Docker, PostgreSQL, metrics).
package out

import (
	"context"
	"io"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ContainerRuntime defines the contract for container runtime operations.
type ContainerRuntime interface {
	// Container lifecycle
	CreateContainer(ctx context.Context, spec *domain.ContainerSpec) (*domain.Container, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RestartContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string, force, removeVolumes bool) error
	RenameContainer(ctx context.Context, containerID, newName string) error

	// Container inspection. A nil labels map lists every container.
	ListContainers(ctx context.Context, all bool, labels map[string]string) ([]*domain.Container, error)
	InspectContainer(ctx context.Context, containerID string) (*domain.ContainerDetails, error)
	GetContainerLogs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error)
	ContainerStats(ctx context.Context, containerID string) (*domain.StatsSnapshot, error)

	// Image operations. progress may be nil.
	ListImages(ctx context.Context) ([]domain.ImageDetail, error)
	PullImage(ctx context.Context, image string, progress func(domain.PullProgress)) error
	RemoveImage(ctx context.Context, image string, force bool) error

	// In-container operations
	ExecInContainer(ctx context.Context, containerID string, cmd []string, env []string) (*domain.ExecResult, error)
	CopyToContainer(ctx context.Context, containerID, dstDir string, tarArchive io.Reader) error
	// CopyFromContainer streams srcPath as a tar archive rooted at its base
	// name. The caller closes the reader.
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error)

	// Volume management
	ListVolumes(ctx context.Context) ([]domain.VolumeInfo, error)
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string, force bool) error
	PruneVolumes(ctx context.Context) (*domain.PruneReport, error)

	// Network management
	CreateNetwork(ctx context.Context, name string, labels map[string]string) error
	RemoveNetwork(ctx context.Context, name string) error
	ListNetworks(ctx context.Context) ([]*domain.NetworkInfo, error)

	// Runtime information
	Ping(ctx context.Context) error
	Version(ctx context.Context) (string, error)
}
