// Package in defines input ports (interfaces) for use cases.
// These interfaces define the contract between driving adapters (CLI)
// and the business logic (use cases).
package in

import (
	"context"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ImageService defines image provisioning and management operations.
type ImageService interface {
	// Ensure makes image available locally, pulling it only when absent.
	Ensure(ctx context.Context, image string) error

	// ListImages returns one entry per repository tag.
	ListImages(ctx context.Context) ([]domain.ImageInfo, error)

	// Pull pulls image unconditionally.
	Pull(ctx context.Context, image string) error

	// Remove removes a local image.
	Remove(ctx context.Context, image string, force bool) error
}
