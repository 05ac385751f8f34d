package out

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// SourceDatabase is a reachable PostgreSQL server used as a migration source.
type SourceDatabase interface {
	// ServerVersion returns the raw output of SELECT version().
	ServerVersion(ctx context.Context, src domain.SourceDatabase) (string, error)
	// ListDatabases enumerates non-template databases.
	ListDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error)
	// DropDatabase drops one database on the source server.
	DropDatabase(ctx context.Context, src domain.SourceDatabase, name string) error
}
