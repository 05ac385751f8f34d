// Package migration moves PostgreSQL databases from an external server into
// managed containers. All client tooling runs inside containers, so the host
// needs nothing but the engine.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
)

// Defaults for Config.
const (
	DefaultBasePort          = 5433
	DefaultHelperNetworkMode = "host"
	DefaultReadyInterval     = 2 * time.Second
	DefaultReadyMaxAttempts  = 30
	DefaultHelperSettleDelay = 2 * time.Second
)

var validate = validator.New()

// Remover deletes a database container and the volumes it mounted.
type Remover interface {
	RemoveDatabase(ctx context.Context, containerID string, removeVolumes bool) error
}

// Config holds configuration needed by the migration service. Zero durations
// disable the corresponding pause; the app layer supplies the defaults.
type Config struct {
	BasePort            int
	DefaultMajorVersion string
	HelperNetworkMode   string
	ReadyInterval       time.Duration
	ReadyMaxAttempts    int
	HelperSettleDelay   time.Duration
	// ScratchDir, when set, receives a copy of each dump while the migration
	// runs. The copy is deleted when the migration succeeds.
	ScratchDir string
}

// Service implements the MigrationService interface.
type Service struct {
	runtime   out.ContainerRuntime
	source    out.SourceDatabase
	allocator *provision.Allocator
	images    provision.ImageEnsurer
	remover   Remover
	store     *Store
	metrics   out.MetricsRecorder
	config    Config
	now       func() time.Time
	newID     func() string
}

// NewService creates a new migration service.
func NewService(
	runtime out.ContainerRuntime,
	source out.SourceDatabase,
	allocator *provision.Allocator,
	images provision.ImageEnsurer,
	remover Remover,
	store *Store,
	metrics out.MetricsRecorder,
	config Config,
) *Service {
	if config.BasePort <= 0 {
		config.BasePort = DefaultBasePort
	}
	if config.DefaultMajorVersion == "" {
		config.DefaultMajorVersion = DefaultMajorVersion
	}
	if config.HelperNetworkMode == "" {
		config.HelperNetworkMode = DefaultHelperNetworkMode
	}
	if config.ReadyMaxAttempts <= 0 {
		config.ReadyMaxAttempts = DefaultReadyMaxAttempts
	}

	return &Service{
		runtime:   runtime,
		source:    source,
		allocator: allocator,
		images:    images,
		remover:   remover,
		store:     store,
		metrics:   out.MetricsOrNop(metrics),
		config:    config,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ListSourceDatabases enumerates the non-template databases of a source server.
func (s *Service) ListSourceDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ListSourceDatabases",
		"source_host":        src.Host,
	})
	log := zerowrap.FromCtx(ctx)

	if err := validateSource(src); err != nil {
		return nil, err
	}

	dbs, err := s.source.ListDatabases(ctx, src)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list source databases")
	}
	return dbs, nil
}

// protectedDatabases cannot be dropped through DropSourceDatabase.
var protectedDatabases = map[string]bool{
	"postgres":  true,
	"template0": true,
	"template1": true,
}

// DropSourceDatabase drops one database on the source server.
func (s *Service) DropSourceDatabase(ctx context.Context, src domain.SourceDatabase, name string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "DropSourceDatabase",
		"source_host":        src.Host,
		"database":           name,
	})
	log := zerowrap.FromCtx(ctx)

	if err := validateSource(src); err != nil {
		return err
	}
	if name == "" {
		return &domain.ConfigError{Field: "database", Reason: "is required"}
	}
	if protectedDatabases[name] {
		return &domain.ConfigError{Field: "database", Value: name, Reason: "system databases cannot be dropped"}
	}

	if err := s.source.DropDatabase(ctx, src, name); err != nil {
		return log.WrapErr(err, "failed to drop source database")
	}
	log.Info().Msg("source database dropped")
	return nil
}

// ListMigrated returns the records of this process's completed migrations.
func (s *Service) ListMigrated(_ context.Context) []domain.MigratedDatabase {
	return s.store.List()
}

// RemoveMigrated removes a migrated database container with its volumes and
// forgets its record.
func (s *Service) RemoveMigrated(ctx context.Context, containerID string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "RemoveMigrated",
		zerowrap.FieldEntityID: containerID,
	})
	log := zerowrap.FromCtx(ctx)

	record, ok := s.store.Find(containerID)
	if !ok {
		return fmt.Errorf("%w: no migration record for %s", domain.ErrContainerNotFound, containerID)
	}

	if err := s.remover.RemoveDatabase(ctx, containerID, true); err != nil && !errors.Is(err, domain.ErrContainerNotFound) {
		return log.WrapErrWithFields(err, "failed to remove migrated database", map[string]any{
			"original_name": record.OriginalName,
		})
	}

	s.store.Remove(containerID)
	return nil
}

func validateSource(src domain.SourceDatabase) error {
	if err := validate.Struct(src); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ConfigError{
				Field:  "source " + fe.Field(),
				Value:  fmt.Sprint(fe.Value()),
				Reason: "failed " + fe.Tag() + " constraint",
			}
		}
		return &domain.ConfigError{Field: "source", Reason: err.Error()}
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
