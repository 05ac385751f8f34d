// Package volumes implements named volume management.
package volumes

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/google/uuid"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
	"github.com/alemelgarejo/docker-database-manager/pkg/bytesize"
)

// Config holds volume backup settings.
type Config struct {
	// HelperImage mounts the volume during backup and restore.
	HelperImage string
	// BackupDir receives archives when Backup is given no directory.
	BackupDir string
}

// Service implements the VolumeService interface.
type Service struct {
	runtime out.ContainerRuntime
	images  provision.ImageEnsurer
	config  Config
	newID   func() string
	now     func() time.Time
}

// NewService creates a new volumes service.
func NewService(runtime out.ContainerRuntime, images provision.ImageEnsurer, config Config) *Service {
	return &Service{
		runtime: runtime,
		images:  images,
		config:  config,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// List returns every named volume sorted by name.
func (s *Service) List(ctx context.Context) ([]domain.VolumeInfo, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ListVolumes",
	})
	log := zerowrap.FromCtx(ctx)

	vols, err := s.runtime.ListVolumes(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list volumes")
	}
	sort.Slice(vols, func(i, j int) bool { return vols[i].Name < vols[j].Name })
	return vols, nil
}

// Remove deletes a named volume. Without force the runtime refuses volumes
// still used by a container.
func (s *Service) Remove(ctx context.Context, name string, force bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "RemoveVolume",
		zerowrap.FieldEntityID: name,
	})
	log := zerowrap.FromCtx(ctx)

	if strings.TrimSpace(name) == "" {
		return &domain.ConfigError{Field: "volume", Reason: "name is required"}
	}
	if err := s.runtime.RemoveVolume(ctx, name, force); err != nil {
		return log.WrapErr(err, "failed to remove volume")
	}

	log.Info().Msg("volume removed")
	return nil
}

// Prune removes every volume not used by a container.
func (s *Service) Prune(ctx context.Context) (*domain.PruneReport, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "PruneVolumes",
	})
	log := zerowrap.FromCtx(ctx)

	report, err := s.runtime.PruneVolumes(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to prune volumes")
	}
	if report.Deleted == nil {
		report.Deleted = []string{}
	}

	log.Info().
		Int("deleted", len(report.Deleted)).
		Str("reclaimed", bytesize.Format(int64(report.SpaceReclaimed))).
		Msg("volumes pruned")
	return report, nil
}
