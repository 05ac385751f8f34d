package in

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ComposeService parses, generates and deploys compose manifests.
type ComposeService interface {
	Parse(content string) (*domain.ComposeConfig, error)
	Generate(ctx context.Context, containerIDs []string) (string, error)
	// Deploy returns the IDs of the started containers in start order.
	Deploy(ctx context.Context, content, project string) ([]string, error)

	ListProjects(ctx context.Context) ([]domain.ComposeProject, error)
	StopProject(ctx context.Context, project string) error
	RemoveProject(ctx context.Context, project string, removeVolumes bool) error
}
