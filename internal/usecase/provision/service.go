// Package provision implements the database container lifecycle use case:
// conflict checks, container specification and the thin runtime passthroughs.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/go-playground/validator/v10"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

// DefaultStopSettleDelay is the pause between stopping and removing a container.
const DefaultStopSettleDelay = time.Second

// DefaultLogTail is the number of log lines returned when none is requested.
const DefaultLogTail = 100

var validate = validator.New()

// ImageEnsurer makes an image available locally.
type ImageEnsurer interface {
	Ensure(ctx context.Context, image string) error
}

// Config holds configuration needed by the provision service.
type Config struct {
	StopSettleDelay time.Duration
}

// Service implements the DatabaseService interface.
type Service struct {
	runtime   out.ContainerRuntime
	allocator *Allocator
	images    ImageEnsurer
	config    Config
	now       func() time.Time
}

// NewService creates a new provision service.
func NewService(runtime out.ContainerRuntime, allocator *Allocator, images ImageEnsurer, config Config) *Service {
	return &Service{
		runtime:   runtime,
		allocator: allocator,
		images:    images,
		config:    config,
		now:       time.Now,
	}
}

// CreateDatabase validates cfg, rejects port and name conflicts, makes the
// image available and starts the container. Nothing is mutated before the
// conflict checks pass.
func (s *Service) CreateDatabase(ctx context.Context, cfg domain.DatabaseConfig) (*domain.Container, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CreateDatabase",
		"database":           cfg.Name,
		"type":               string(cfg.Type),
		"port":               cfg.Port,
	})
	log := zerowrap.FromCtx(ctx)

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	entry, err := domain.LookupDatabaseType(cfg.Type)
	if err != nil {
		return nil, &domain.ConfigError{Field: "type", Value: string(cfg.Type), Reason: "unsupported database type"}
	}

	spec, err := BuildSpec(cfg, entry)
	if err != nil {
		return nil, err
	}
	if cfg.CPULimit != "" && spec.NanoCPUs == nil {
		log.Debug().Str("cpu_limit", cfg.CPULimit).Msg("ignoring non-numeric cpu limit")
	}

	if err := s.allocator.CheckConflicts(ctx, cfg.Port, spec.Name); err != nil {
		return nil, err
	}

	if err := s.images.Ensure(ctx, spec.Image); err != nil {
		return nil, err
	}

	ctr, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return nil, log.WrapErr(err, "failed to create container")
	}

	if err := s.runtime.StartContainer(ctx, ctr.ID); err != nil {
		if rmErr := s.runtime.RemoveContainer(ctx, ctr.ID, true, false); rmErr != nil {
			log.Warn().Err(rmErr).Msg("failed to remove container after start failure")
		}
		return nil, log.WrapErr(err, "failed to start container")
	}

	log.Info().Str(zerowrap.FieldEntityID, ctr.ID).Str("image", spec.Image).Msg("database created")
	return ctr, nil
}

// ValidateConfig checks struct constraints, the container name, and that a
// password is set for engines that refuse to start without one.
func ValidateConfig(cfg domain.DatabaseConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &domain.ConfigError{
				Field:  strings.ToLower(fe.Field()),
				Value:  fmt.Sprint(fe.Value()),
				Reason: "failed " + fe.Tag() + " constraint",
			}
		}
		return &domain.ConfigError{Field: "database config", Reason: err.Error()}
	}
	if err := validation.ValidateContainerName(cfg.Name); err != nil {
		return &domain.ConfigError{Field: "name", Value: cfg.Name, Reason: err.Error()}
	}
	if entry, err := domain.LookupDatabaseType(cfg.Type); err == nil && entry.NeedPassword && cfg.Password == "" {
		return &domain.ConfigError{Field: "password", Reason: "required for " + entry.DisplayName}
	}
	return nil
}

// ListDatabases returns every container carrying the application label.
func (s *Service) ListDatabases(ctx context.Context) ([]*domain.Container, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ListDatabases",
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := s.runtime.ListContainers(ctx, true, map[string]string{domain.LabelApp: domain.AppLabelValue})
	if err != nil {
		return nil, log.WrapErr(err, "failed to list databases")
	}
	return containers, nil
}

// Start starts a container.
func (s *Service) Start(ctx context.Context, containerID string) error {
	ctx = s.lifecycleCtx(ctx, "Start", containerID)
	if err := s.runtime.StartContainer(ctx, containerID); err != nil {
		return zerowrap.FromCtx(ctx).WrapErr(err, "failed to start container")
	}
	return nil
}

// Stop stops a container.
func (s *Service) Stop(ctx context.Context, containerID string) error {
	ctx = s.lifecycleCtx(ctx, "Stop", containerID)
	if err := s.runtime.StopContainer(ctx, containerID); err != nil {
		return zerowrap.FromCtx(ctx).WrapErr(err, "failed to stop container")
	}
	return nil
}

// Restart restarts a container.
func (s *Service) Restart(ctx context.Context, containerID string) error {
	ctx = s.lifecycleCtx(ctx, "Restart", containerID)
	if err := s.runtime.RestartContainer(ctx, containerID); err != nil {
		return zerowrap.FromCtx(ctx).WrapErr(err, "failed to restart container")
	}
	return nil
}

func (s *Service) lifecycleCtx(ctx context.Context, action, containerID string) context.Context {
	return zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  action,
		zerowrap.FieldEntityID: containerID,
	})
}

// RemoveDatabase stops the container, waits for it to settle and force
// removes it. With removeVolumes the named volumes it mounted are removed too.
func (s *Service) RemoveDatabase(ctx context.Context, containerID string, removeVolumes bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "RemoveDatabase",
		zerowrap.FieldEntityID: containerID,
		"remove_volumes":      removeVolumes,
	})
	log := zerowrap.FromCtx(ctx)

	details, err := s.runtime.InspectContainer(ctx, containerID)
	if err != nil {
		return log.WrapErr(err, "failed to inspect container")
	}

	// Already stopped containers are fine.
	if err := s.runtime.StopContainer(ctx, containerID); err != nil {
		log.Debug().Err(err).Msg("stop before remove failed")
	}

	if err := sleep(ctx, s.config.StopSettleDelay); err != nil {
		return err
	}

	if err := s.runtime.RemoveContainer(ctx, containerID, true, removeVolumes); err != nil {
		return log.WrapErr(err, "failed to remove container")
	}

	if removeVolumes {
		for _, m := range details.Mounts {
			if m.Type != "volume" || m.Name == "" {
				continue
			}
			if err := s.runtime.RemoveVolume(ctx, m.Name, true); err != nil {
				pf := &domain.PartialFailure{Op: "remove database volumes", Detail: m.Name + ": " + err.Error()}
				log.Warn().Err(pf).Msg("volume left behind")
			}
		}
	}

	log.Info().Str("name", details.Name).Msg("database removed")
	return nil
}

// UpdatePort recreates the container with its host port changed to newPort.
// The old container is kept, renamed, until the new one has started.
func (s *Service) UpdatePort(ctx context.Context, containerID string, newPort int) (*domain.Container, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "UpdatePort",
		zerowrap.FieldEntityID: containerID,
		"new_port":            newPort,
	})
	log := zerowrap.FromCtx(ctx)

	if newPort < 1 || newPort > maxPort {
		return nil, &domain.ConfigError{Field: "port", Value: fmt.Sprint(newPort), Reason: "must be between 1 and 65535"}
	}

	details, err := s.runtime.InspectContainer(ctx, containerID)
	if err != nil {
		return nil, log.WrapErr(err, "failed to inspect container")
	}

	for _, pm := range details.PortMappings {
		if pm.HostPort == newPort {
			log.Debug().Msg("port unchanged")
			return &details.Container, nil
		}
	}

	if err := s.allocator.CheckConflicts(ctx, newPort, ""); err != nil {
		return nil, err
	}

	spec := specFromDetails(details)
	for i := range spec.Ports {
		if spec.Ports[i].HostPort > 0 {
			spec.Ports[i].HostPort = newPort
		}
	}

	oldName := details.Name + "-old"
	wasRunning := details.IsRunning()
	if wasRunning {
		if err := s.runtime.StopContainer(ctx, containerID); err != nil {
			return nil, log.WrapErr(err, "failed to stop container")
		}
	}
	if err := s.runtime.RenameContainer(ctx, containerID, oldName); err != nil {
		return nil, log.WrapErr(err, "failed to rename container")
	}

	restore := func() {
		if err := s.runtime.RenameContainer(ctx, containerID, details.Name); err != nil {
			log.Error().Err(err).Msg("failed to restore container name")
		}
		if wasRunning {
			if err := s.runtime.StartContainer(ctx, containerID); err != nil {
				log.Error().Err(err).Msg("failed to restart original container")
			}
		}
	}

	ctr, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		restore()
		return nil, log.WrapErr(err, "failed to create container with new port")
	}
	if err := s.runtime.StartContainer(ctx, ctr.ID); err != nil {
		if rmErr := s.runtime.RemoveContainer(ctx, ctr.ID, true, false); rmErr != nil {
			log.Warn().Err(rmErr).Msg("failed to remove replacement container")
		}
		restore()
		return nil, log.WrapErr(err, "failed to start container with new port")
	}

	if err := s.runtime.RemoveContainer(ctx, containerID, true, false); err != nil {
		log.Warn().Err(err).Str("container", oldName).Msg("failed to remove previous container")
	}

	log.Info().Str("new_id", ctr.ID).Msg("port updated")
	return ctr, nil
}

// specFromDetails rebuilds a creation spec from an inspected container.
func specFromDetails(d *domain.ContainerDetails) *domain.ContainerSpec {
	spec := &domain.ContainerSpec{
		Name:          d.Name,
		Image:         d.Image,
		Env:           d.Env,
		Cmd:           d.Cmd,
		Labels:        d.Labels,
		RestartPolicy: d.RestartPolicy,
		Ports:         append([]domain.PortMapping(nil), d.PortMappings...),
	}
	for _, m := range d.Mounts {
		source := m.Source
		if m.Type == "volume" {
			source = m.Name
		}
		spec.Binds = append(spec.Binds, source+":"+m.Destination)
	}
	if d.NetworkMode != "" && d.NetworkMode != "default" {
		spec.NetworkMode = d.NetworkMode
	}
	if d.MemoryBytes > 0 {
		mem := d.MemoryBytes
		spec.MemoryBytes = &mem
	}
	if d.NanoCPUs > 0 {
		cpus := d.NanoCPUs
		spec.NanoCPUs = &cpus
	}
	return spec
}

// Logs returns the last tail lines of container output.
func (s *Service) Logs(ctx context.Context, containerID string, tail int) ([]domain.LogEntry, error) {
	ctx = s.lifecycleCtx(ctx, "Logs", containerID)
	if tail <= 0 {
		tail = DefaultLogTail
	}
	entries, err := s.runtime.GetContainerLogs(ctx, containerID, tail)
	if err != nil {
		return nil, zerowrap.FromCtx(ctx).WrapErr(err, "failed to get container logs")
	}
	return entries, nil
}

// ExecSQL runs sql with the engine's command line client inside the
// container and returns the combined output.
func (s *Service) ExecSQL(ctx context.Context, containerID, database, username, sql string) (string, error) {
	ctx = s.lifecycleCtx(ctx, "ExecSQL", containerID)
	log := zerowrap.FromCtx(ctx)

	details, err := s.runtime.InspectContainer(ctx, containerID)
	if err != nil {
		return "", log.WrapErr(err, "failed to inspect container")
	}

	cmd, env, err := sqlCommand(details, database, username, sql)
	if err != nil {
		return "", err
	}

	result, err := s.runtime.ExecInContainer(ctx, containerID, cmd, env)
	if err != nil {
		return "", log.WrapErr(err, "failed to execute statement")
	}

	output := string(result.Stdout) + string(result.Stderr)
	if result.ExitCode != 0 {
		return output, fmt.Errorf("statement exited with code %d: %s", result.ExitCode, domain.Tail(result.Stderr, 512))
	}
	return output, nil
}

// sqlCommand selects the client for the container's database type.
// Unlabeled containers are treated as PostgreSQL.
func sqlCommand(d *domain.ContainerDetails, database, username, sql string) ([]string, []string, error) {
	dbType := d.DatabaseType()
	if dbType == "" {
		dbType = domain.DatabasePostgreSQL
	}

	switch dbType {
	case domain.DatabasePostgreSQL:
		return []string{"psql", "-U", username, "-d", database, "-c", sql}, nil, nil
	case domain.DatabaseMySQL:
		pw := envValue(d.Env, "MYSQL_ROOT_PASSWORD")
		if username != "root" {
			pw = envValue(d.Env, "MYSQL_PASSWORD")
		}
		return []string{"mysql", "-u", username, "-D", database, "-e", sql}, []string{"MYSQL_PWD=" + pw}, nil
	case domain.DatabaseMariaDB:
		pw := envValue(d.Env, "MARIADB_ROOT_PASSWORD")
		if username != "root" {
			pw = envValue(d.Env, "MARIADB_PASSWORD")
		}
		return []string{"mariadb", "-u", username, "-D", database, "-e", sql}, []string{"MYSQL_PWD=" + pw}, nil
	case domain.DatabaseMongoDB:
		cmd := []string{"mongosh", "--quiet"}
		if pw := envValue(d.Env, "MONGO_INITDB_ROOT_PASSWORD"); pw != "" {
			cmd = append(cmd, "-u", username, "-p", pw, "--authenticationDatabase", "admin")
		}
		return append(cmd, database, "--eval", sql), nil, nil
	case domain.DatabaseRedis:
		cmd := []string{"redis-cli"}
		if len(d.Cmd) == 3 && d.Cmd[1] == "--requirepass" {
			cmd = append(cmd, "-a", d.Cmd[2], "--no-auth-warning")
		}
		return append(cmd, strings.Fields(sql)...), nil, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", domain.ErrUnknownDatabaseType, dbType)
}

// Backup writes a pg_dump of database to a file inside the container and
// returns its path.
func (s *Service) Backup(ctx context.Context, containerID, database, username string) (string, error) {
	ctx = s.lifecycleCtx(ctx, "Backup", containerID)
	log := zerowrap.FromCtx(ctx)

	path := fmt.Sprintf("/tmp/backup_%s_%d.sql", database, s.now().Unix())
	result, err := s.runtime.ExecInContainer(ctx, containerID, []string{"pg_dump", "-U", username, "-d", database, "-f", path}, nil)
	if err != nil {
		return "", log.WrapErr(err, "failed to run pg_dump")
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("pg_dump exited with code %d: %s", result.ExitCode, domain.Tail(result.Stderr, 512))
	}

	log.Info().Str("path", path).Msg("backup written")
	return path, nil
}

// DatabaseTypes returns the catalog in display order.
func (s *Service) DatabaseTypes() []domain.CatalogEntry {
	return domain.DatabaseTypes()
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
