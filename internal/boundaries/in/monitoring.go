package in

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// StatsService samples container resource usage.
type StatsService interface {
	Collect(ctx context.Context, containerID string) (*domain.ContainerStats, error)
	CollectAll(ctx context.Context) ([]domain.ContainerStats, error)
}

// VolumeService manages named volumes.
type VolumeService interface {
	List(ctx context.Context) ([]domain.VolumeInfo, error)
	Remove(ctx context.Context, name string, force bool) error
	Prune(ctx context.Context) (*domain.PruneReport, error)
	Backup(ctx context.Context, name, destDir string) (string, error)
	Restore(ctx context.Context, name, archivePath string) error
}
