package in

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// DatabaseService defines the lifecycle of managed database containers.
type DatabaseService interface {
	// CreateDatabase validates cfg, checks for conflicts and starts a new container.
	CreateDatabase(ctx context.Context, cfg domain.DatabaseConfig) (*domain.Container, error)

	// ListDatabases returns every managed database container.
	ListDatabases(ctx context.Context) ([]*domain.Container, error)

	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string) error
	Restart(ctx context.Context, containerID string) error

	// RemoveDatabase stops and removes a container, optionally with its volumes.
	RemoveDatabase(ctx context.Context, containerID string, removeVolumes bool) error

	// UpdatePort recreates the container with a new host port.
	UpdatePort(ctx context.Context, containerID string, newPort int) (*domain.Container, error)

	// Logs returns the last tail lines of container output.
	Logs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error)

	// ExecSQL runs a statement with the engine's command line client.
	ExecSQL(ctx context.Context, containerID, database, username, sql string) (string, error)

	// Backup dumps a PostgreSQL database to a file inside the container.
	Backup(ctx context.Context, containerID, database, username string) (string, error)

	// DatabaseTypes returns the catalog.
	DatabaseTypes() []domain.CatalogEntry
}
