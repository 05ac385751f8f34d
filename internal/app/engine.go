package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/adapters/out/docker"
	"github.com/alemelgarejo/docker-database-manager/internal/adapters/out/postgres"
	"github.com/alemelgarejo/docker-database-manager/internal/adapters/out/telemetry"
	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/in"
	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/compose"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/images"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/migration"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/stats"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/volumes"
)

// Engine is the single entry point of the shell. Every operation holds one
// lock for its whole call sequence, so operations never interleave.
type Engine struct {
	mu sync.Mutex

	runtime   out.ContainerRuntime
	store     *migration.Store
	metrics   *telemetry.Metrics
	databases in.DatabaseService
	images    in.ImageService
	migration in.MigrationService
	compose   in.ComposeService
	stats     in.StatsService
	volumes   in.VolumeService
	config    Config

	closeFn func() error
}

// HealthReport is the result of Check.
type HealthReport struct {
	Docker        string `json:"docker"`
	DockerVersion string `json:"docker_version"`
}

// New connects to the container engine described by cfg and wires every
// service.
func New(cfg Config) (*Engine, error) {
	runtime, err := docker.NewRuntime(cfg.Docker.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker runtime: %w", err)
	}

	e := NewEngine(runtime, postgres.NewSource(cfg.Migration.SourceTimeout), telemetry.NewMetrics(), cfg)
	e.closeFn = runtime.Close
	return e, nil
}

// NewEngine wires the services over the given adapters.
func NewEngine(runtime out.ContainerRuntime, source out.SourceDatabase, metrics *telemetry.Metrics, cfg Config) *Engine {
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	imageSvc := images.NewService(runtime, metrics, cfg.imagesConfig())
	allocator := provision.NewAllocator(runtime, cfg.Provision.MaxPortSearch)
	databaseSvc := provision.NewService(runtime, allocator, imageSvc, cfg.provisionConfig())
	store := migration.NewStore()

	return &Engine{
		runtime:   runtime,
		store:     store,
		metrics:   metrics,
		databases: databaseSvc,
		images:    imageSvc,
		migration: migration.NewService(runtime, source, allocator, imageSvc, databaseSvc, store, metrics, cfg.migrationConfig()),
		compose:   compose.NewService(runtime, imageSvc),
		stats:     stats.NewService(runtime, metrics),
		volumes:   volumes.NewService(runtime, imageSvc, cfg.volumesConfig()),
		config:    cfg,
	}
}

// Close releases the engine connection.
func (e *Engine) Close() error {
	if e.closeFn == nil {
		return nil
	}
	return e.closeFn()
}

// Metrics returns the recorder shared by all services.
func (e *Engine) Metrics() *telemetry.Metrics {
	return e.metrics
}

func (e *Engine) lock() func() {
	e.mu.Lock()
	return e.mu.Unlock
}

// Check verifies the container engine is reachable.
func (e *Engine) Check(ctx context.Context) (*HealthReport, error) {
	defer e.lock()()
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "app",
		zerowrap.FieldUseCase: "Check",
	})
	log := zerowrap.FromCtx(ctx)

	if err := e.runtime.Ping(ctx); err != nil {
		return nil, log.WrapErr(err, "container engine unreachable")
	}
	version, err := e.runtime.Version(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to read engine version")
	}
	return &HealthReport{Docker: "ok", DockerVersion: version}, nil
}

// Databases

// CreateDatabase provisions and starts a database container from cfg.
func (e *Engine) CreateDatabase(ctx context.Context, cfg domain.DatabaseConfig) (*domain.Container, error) {
	defer e.lock()()
	return e.databases.CreateDatabase(ctx, cfg)
}

// ListDatabases returns every container carrying the application label.
func (e *Engine) ListDatabases(ctx context.Context) ([]*domain.Container, error) {
	defer e.lock()()
	return e.databases.ListDatabases(ctx)
}

// StartDatabase starts a managed container.
func (e *Engine) StartDatabase(ctx context.Context, containerID string) error {
	defer e.lock()()
	return e.databases.Start(ctx, containerID)
}

// StopDatabase stops a managed container.
func (e *Engine) StopDatabase(ctx context.Context, containerID string) error {
	defer e.lock()()
	return e.databases.Stop(ctx, containerID)
}

// RestartDatabase restarts a managed container.
func (e *Engine) RestartDatabase(ctx context.Context, containerID string) error {
	defer e.lock()()
	return e.databases.Restart(ctx, containerID)
}

// RemoveDatabase removes the container and forgets any migration record
// pointing at it.
func (e *Engine) RemoveDatabase(ctx context.Context, containerID string, removeVolumes bool) error {
	defer e.lock()()
	if err := e.databases.RemoveDatabase(ctx, containerID, removeVolumes); err != nil {
		return err
	}
	e.store.Remove(containerID)
	return nil
}

// UpdatePort recreates the container with a new host port. A migration
// record for the old container follows it to the new ID.
func (e *Engine) UpdatePort(ctx context.Context, containerID string, newPort int) (*domain.Container, error) {
	defer e.lock()()
	updated, err := e.databases.UpdatePort(ctx, containerID, newPort)
	if err != nil {
		return nil, err
	}
	// The container was recreated under a new ID.
	if record, ok := e.store.Find(containerID); ok {
		e.store.Remove(containerID)
		record.ContainerID = updated.ID
		record.Port = newPort
		e.store.Append(record)
	}
	return updated, nil
}

// Logs returns up to tail log lines from the container.
func (e *Engine) Logs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error) {
	defer e.lock()()
	return e.databases.Logs(ctx, containerID, tail)
}

// ExecSQL runs sql through the engine's shell client inside the container.
func (e *Engine) ExecSQL(ctx context.Context, containerID, database, username, sql string) (string, error) {
	defer e.lock()()
	return e.databases.ExecSQL(ctx, containerID, database, username, sql)
}

// Backup dumps database to a timestamped file and returns its path.
func (e *Engine) Backup(ctx context.Context, containerID, database, username string) (string, error) {
	defer e.lock()()
	return e.databases.Backup(ctx, containerID, database, username)
}

// DatabaseTypes needs no lock; the catalog is immutable.
func (e *Engine) DatabaseTypes() []domain.CatalogEntry {
	return e.databases.DatabaseTypes()
}

// Images

// ListImages returns local images, one entry per tag.
func (e *Engine) ListImages(ctx context.Context) ([]domain.ImageInfo, error) {
	defer e.lock()()
	return e.images.ListImages(ctx)
}

// EnsureImage pulls image unless it is already present.
func (e *Engine) EnsureImage(ctx context.Context, image string) error {
	defer e.lock()()
	return e.images.Ensure(ctx, image)
}

// PullImage pulls image unconditionally.
func (e *Engine) PullImage(ctx context.Context, image string) error {
	defer e.lock()()
	return e.images.Pull(ctx, image)
}

// RemoveImage removes a local image.
func (e *Engine) RemoveImage(ctx context.Context, image string, force bool) error {
	defer e.lock()()
	return e.images.Remove(ctx, image, force)
}

// Migration

// Migrate copies an external PostgreSQL database into a new managed
// container.
func (e *Engine) Migrate(ctx context.Context, req domain.MigrationRequest) (*domain.MigrationResult, error) {
	defer e.lock()()
	return e.migration.Migrate(ctx, req)
}

// ListSourceDatabases lists the non-template databases of an external server.
func (e *Engine) ListSourceDatabases(ctx context.Context, src domain.SourceDatabase) ([]domain.LocalDatabase, error) {
	defer e.lock()()
	return e.migration.ListSourceDatabases(ctx, src)
}

// DropSourceDatabase drops a database on an external server.
func (e *Engine) DropSourceDatabase(ctx context.Context, src domain.SourceDatabase, name string) error {
	defer e.lock()()
	return e.migration.DropSourceDatabase(ctx, src, name)
}

// ListMigrated returns the records of completed migrations.
func (e *Engine) ListMigrated(ctx context.Context) []domain.MigratedDatabase {
	defer e.lock()()
	return e.migration.ListMigrated(ctx)
}

// RemoveMigrated removes a migrated container with its volumes and forgets
// its record.
func (e *Engine) RemoveMigrated(ctx context.Context, containerID string) error {
	defer e.lock()()
	return e.migration.RemoveMigrated(ctx, containerID)
}

// Compose

// GenerateCompose renders a compose manifest recreating the containers.
func (e *Engine) GenerateCompose(ctx context.Context, containerIDs []string) (string, error) {
	defer e.lock()()
	return e.compose.Generate(ctx, containerIDs)
}

// DeployCompose deploys a compose manifest as project and returns the
// IDs of the started containers.
func (e *Engine) DeployCompose(ctx context.Context, content, project string) ([]string, error) {
	defer e.lock()()
	return e.compose.Deploy(ctx, content, project)
}

// ListProjects groups labelled containers by compose project.
func (e *Engine) ListProjects(ctx context.Context) ([]domain.ComposeProject, error) {
	defer e.lock()()
	return e.compose.ListProjects(ctx)
}

// StopProject stops the running containers of project.
func (e *Engine) StopProject(ctx context.Context, project string) error {
	defer e.lock()()
	return e.compose.StopProject(ctx, project)
}

// RemoveProject removes the containers of project, and its volumes and
// networks when removeVolumes is set.
func (e *Engine) RemoveProject(ctx context.Context, project string, removeVolumes bool) error {
	defer e.lock()()
	return e.compose.RemoveProject(ctx, project, removeVolumes)
}

// Stats

// CollectStats samples resource usage of one container.
func (e *Engine) CollectStats(ctx context.Context, containerID string) (*domain.ContainerStats, error) {
	defer e.lock()()
	return e.stats.Collect(ctx, containerID)
}

// CollectAllStats samples every running managed container.
func (e *Engine) CollectAllStats(ctx context.Context) ([]domain.ContainerStats, error) {
	defer e.lock()()
	return e.stats.CollectAll(ctx)
}

// ServeMetrics exposes the metrics endpoint on listen and samples every
// running managed container each interval until ctx is cancelled. An empty
// listen selects the configured address. The lock is taken per sample only.
func (e *Engine) ServeMetrics(ctx context.Context, listen string) error {
	if listen == "" {
		listen = e.config.Metrics.Listen
	}
	interval := e.config.Metrics.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	return telemetry.Serve(ctx, listen, interval, e.metrics, e.CollectAllStats)
}

// Volumes

// ListVolumes returns every named volume sorted by name.
func (e *Engine) ListVolumes(ctx context.Context) ([]domain.VolumeInfo, error) {
	defer e.lock()()
	return e.volumes.List(ctx)
}

// RemoveVolume removes a volume.
func (e *Engine) RemoveVolume(ctx context.Context, name string, force bool) error {
	defer e.lock()()
	return e.volumes.Remove(ctx, name, force)
}

// PruneVolumes removes every volume not used by a container.
func (e *Engine) PruneVolumes(ctx context.Context) (*domain.PruneReport, error) {
	defer e.lock()()
	return e.volumes.Prune(ctx)
}

// BackupVolume archives a volume into destDir, or the configured backup
// directory when destDir is empty, and returns the archive path.
func (e *Engine) BackupVolume(ctx context.Context, name, destDir string) (string, error) {
	defer e.lock()()
	return e.volumes.Backup(ctx, name, destDir)
}

// RestoreVolume extracts a backup archive into a volume, creating it if
// needed.
func (e *Engine) RestoreVolume(ctx context.Context, name, archivePath string) error {
	defer e.lock()()
	return e.volumes.Restore(ctx, name, archivePath)
}
