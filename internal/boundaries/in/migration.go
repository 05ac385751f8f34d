package in

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// MigrationService moves PostgreSQL databases from a source server into
// managed containers.
type MigrationService interface {
	Migrate(ctx context.Context, req domain.MigrationRequest) (*domain.MigrationResult, error)

	ListSourceDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error)
	DropSourceDatabase(ctx context.Context, src domain.SourceDatabase, name string) error

	// ListMigrated returns the records of this process's completed migrations.
	ListMigrated(ctx context.Context) []domain.MigratedDatabase
	// RemoveMigrated removes the destination container and forgets the record.
	RemoveMigrated(ctx context.Context, containerID string) error
}
