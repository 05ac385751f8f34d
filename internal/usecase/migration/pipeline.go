package migration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/logging"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

const pipelineName = "migration"

// Pipeline steps, in execution order.
const (
	StepVersionProbe            = "version_probe"
	StepDumpExtraction          = "dump_extraction"
	StepPortAllocation          = "port_allocation"
	StepDestinationProvisioning = "destination_provisioning"
	StepReadinessPoll           = "readiness_poll"
	StepArtifactTransfer        = "artifact_transfer"
	StepRestore                 = "restore"
)

const (
	hostGatewayAlias = "host.docker.internal"
	artifactDir      = "/tmp"
	helperPrefix     = "dbm-dump-"
	helperLifetime   = "3600"
	cleanupTimeout   = 30 * time.Second
	detailTail       = 1024
)

// fatalRestoreMarkers in psql stderr mean the restore did not run.
var fatalRestoreMarkers = []string{
	"FATAL:",
	"could not connect",
	"connection to server",
	"No such file or directory",
}

func stepErr(step string, err error, detail string) error {
	return &domain.StepError{Pipeline: pipelineName, Step: step, Err: err, Detail: detail}
}

// plan is a validated migration request with defaults applied.
type plan struct {
	src      domain.SourceDatabase
	dest     domain.DatabaseConfig
	entry    domain.CatalogEntry
	ctrName  string
	username string
}

// Migrate copies req.Source into a new PostgreSQL container. The dump helper
// container is always removed. A destination container that was created is
// left in place when a later step fails.
func (s *Service) Migrate(ctx context.Context, req domain.MigrationRequest) (*domain.MigrationResult, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "Migrate",
		"source_host":        req.Source.Host,
		"source_database":    req.Source.Database,
	})
	log := zerowrap.FromCtx(ctx)

	started := s.now()
	result, err := s.migrate(ctx, req)
	s.metrics.MigrationFinished(err == nil, s.now().Sub(started))
	if err != nil {
		log.Error().Err(err).Msg("migration failed")
		return nil, err
	}

	log.Info().
		Str(zerowrap.FieldEntityID, result.Record.ContainerID).
		Int("port", result.Record.Port).
		Int("warnings", len(result.Warnings)).
		Msg("migration completed")
	return result, nil
}

func (s *Service) migrate(ctx context.Context, req domain.MigrationRequest) (*domain.MigrationResult, error) {
	p, err := s.plan(req)
	if err != nil {
		return nil, err
	}

	if err := s.allocator.CheckConflicts(ctx, 0, p.ctrName); err != nil {
		return nil, err
	}

	rawVersion, err := s.source.ServerVersion(withStep(ctx, StepVersionProbe), p.src)
	if err != nil {
		return nil, stepErr(StepVersionProbe, err, "")
	}
	major := ParseMajorVersion(rawVersion, s.config.DefaultMajorVersion)
	p.dest.Version = major
	image := p.entry.ImageRef(major)
	log := zerowrap.FromCtx(ctx)
	log.Info().Str("major", major).Str("image", image).Msg("source version probed")

	dump, err := s.extractDump(withStep(ctx, StepDumpExtraction), p.src, image)
	if err != nil {
		return nil, err
	}
	scratch := s.writeScratch(ctx, p.dest.Name, dump)

	port, err := s.allocator.FindFreePort(withStep(ctx, StepPortAllocation), s.config.BasePort)
	if err != nil {
		return nil, stepErr(StepPortAllocation, err, "")
	}
	p.dest.Port = port

	ctr, err := s.provisionDestination(withStep(ctx, StepDestinationProvisioning), p)
	if err != nil {
		return nil, err
	}

	if err := s.waitReady(withStep(ctx, StepReadinessPoll), ctr.ID, p); err != nil {
		return nil, stepErr(StepReadinessPoll, err, "destination container "+ctr.ID+" left in place")
	}

	artifact := fmt.Sprintf("migration_%s_%d.sql", p.dest.Name, s.now().Unix())
	if err := s.transfer(withStep(ctx, StepArtifactTransfer), ctr.ID, artifact, dump); err != nil {
		return nil, err
	}

	warnings, err := s.restore(withStep(ctx, StepRestore), ctr.ID, p, artifactDir+"/"+artifact)
	if err != nil {
		return nil, err
	}

	tableCount := s.verify(ctx, ctr.ID, p)

	s.removeScratch(ctx, scratch)

	record := domain.MigratedDatabase{
		OriginalName:  p.src.Database,
		ContainerID:   ctr.ID,
		ContainerName: p.ctrName,
		Port:          port,
		MigratedAt:    s.now().UTC(),
		SizeBytes:     int64(len(dump)),
	}
	s.store.Append(record)

	return &domain.MigrationResult{
		Record:        record,
		SourceVersion: strings.TrimSpace(rawVersion),
		TableCount:    tableCount,
		Warnings:      warnings,
	}, nil
}

func (s *Service) plan(req domain.MigrationRequest) (plan, error) {
	if err := validateSource(req.Source); err != nil {
		return plan{}, err
	}
	if req.Source.Database == "" {
		return plan{}, &domain.ConfigError{Field: "source database", Reason: "is required"}
	}

	target := req.TargetName
	if target == "" {
		target = req.Source.Database
	}
	password := req.Password
	if password == "" {
		password = req.Source.Password
	}
	if password == "" {
		return plan{}, &domain.ConfigError{Field: "password", Reason: "destination superuser needs a password"}
	}

	entry, err := domain.LookupDatabaseType(domain.DatabasePostgreSQL)
	if err != nil {
		return plan{}, err
	}

	dest := domain.DatabaseConfig{
		Name:     target,
		Username: req.Source.Username,
		Password: password,
		// Placeholder until PortAllocation; ValidateConfig requires a port.
		Port: s.config.BasePort,
		Type: domain.DatabasePostgreSQL,
	}
	if err := provision.ValidateConfig(dest); err != nil {
		return plan{}, err
	}

	return plan{
		src:      req.Source,
		dest:     dest,
		entry:    entry,
		ctrName:  entry.ContainerName(target),
		username: req.Source.Username,
	}, nil
}

// extractDump runs pg_dump against the source inside a short-lived helper
// container and returns its stdout.
func (s *Service) extractDump(ctx context.Context, src domain.SourceDatabase, image string) ([]byte, error) {
	log := zerowrap.FromCtx(ctx)

	if err := s.images.Ensure(ctx, image); err != nil {
		return nil, stepErr(StepDumpExtraction, err, "")
	}

	host := src.Host
	spec := &domain.ContainerSpec{
		Name:        helperPrefix + s.newID()[:8],
		Image:       image,
		Cmd:         []string{"sleep", helperLifetime},
		NetworkMode: s.config.HelperNetworkMode,
		Labels:      map[string]string{domain.LabelManaged: "dump-helper"},
	}
	if s.config.HelperNetworkMode != "host" && isLoopback(host) {
		host = hostGatewayAlias
		spec.ExtraHosts = []string{hostGatewayAlias + ":host-gateway"}
	}

	helper, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return nil, stepErr(StepDumpExtraction, err, "creating helper "+spec.Name)
	}
	defer s.removeHelper(ctx, helper.ID)

	if err := s.runtime.StartContainer(ctx, helper.ID); err != nil {
		return nil, stepErr(StepDumpExtraction, err, "starting helper "+spec.Name)
	}
	if err := sleep(ctx, s.config.HelperSettleDelay); err != nil {
		return nil, stepErr(StepDumpExtraction, err, "")
	}

	cmd := []string{
		"pg_dump",
		"-h", host,
		"-p", strconv.Itoa(src.Port),
		"-U", src.Username,
		"-d", src.Database,
		"--no-owner",
		"--no-acl",
	}
	result, err := s.runtime.ExecInContainer(ctx, helper.ID, cmd, []string{"PGPASSWORD=" + src.Password})
	if err != nil {
		return nil, stepErr(StepDumpExtraction, err, "")
	}
	if len(result.Stdout) == 0 {
		return nil, stepErr(StepDumpExtraction, domain.ErrEmptyDump, domain.Tail(result.Stderr, detailTail))
	}
	if result.ExitCode != 0 {
		return nil, stepErr(StepDumpExtraction,
			fmt.Errorf("pg_dump exited with code %d", result.ExitCode),
			domain.Tail(result.Stderr, detailTail))
	}

	log.Info().Int("bytes", len(result.Stdout)).Msg("dump extracted")
	return result.Stdout, nil
}

// removeHelper runs on every exit path of extractDump, including a cancelled
// parent context.
func (s *Service) removeHelper(ctx context.Context, helperID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	log := zerowrap.FromCtx(ctx)
	if err := s.runtime.RemoveContainer(cleanupCtx, helperID, true, false); err != nil {
		log.Warn().Err(err).Str("helper", helperID).Msg("failed to remove dump helper")
		return
	}
	log.Debug().Str("helper", helperID).Msg("dump helper removed")
}

func (s *Service) provisionDestination(ctx context.Context, p plan) (*domain.Container, error) {
	spec, err := provision.BuildSpec(p.dest, p.entry)
	if err != nil {
		return nil, stepErr(StepDestinationProvisioning, err, "")
	}
	spec.Labels[domain.LabelMigrated] = "true"
	spec.Labels[domain.LabelOriginalSource] = p.src.Database

	// The image was made available for the dump helper.
	ctr, err := s.runtime.CreateContainer(ctx, spec)
	if err != nil {
		return nil, stepErr(StepDestinationProvisioning, err, "creating "+spec.Name)
	}
	if err := s.runtime.StartContainer(ctx, ctr.ID); err != nil {
		return nil, stepErr(StepDestinationProvisioning, err, "starting "+spec.Name)
	}

	log := zerowrap.FromCtx(ctx)
	log.Info().
		Str(zerowrap.FieldEntityID, ctr.ID).
		Int("port", p.dest.Port).
		Msg("destination container started")
	return ctr, nil
}

func (s *Service) transfer(ctx context.Context, containerID, artifact string, dump []byte) error {
	archive, err := singleFileTar(artifact, dump, s.now())
	if err != nil {
		return stepErr(StepArtifactTransfer, err, "")
	}
	if err := s.runtime.CopyToContainer(ctx, containerID, artifactDir, archive); err != nil {
		return stepErr(StepArtifactTransfer, err, "")
	}
	return nil
}

// restore loads the uploaded artifact with psql. Warnings on stderr are
// returned; fatal markers or a non-zero exit fail the step.
func (s *Service) restore(ctx context.Context, containerID string, p plan, path string) ([]string, error) {
	log := zerowrap.FromCtx(ctx)

	cmd := []string{"psql", "-U", p.username, "-d", p.dest.Name, "-f", path}
	result, err := s.runtime.ExecInContainer(ctx, containerID, cmd, nil)
	if err != nil {
		return nil, stepErr(StepRestore, err, "")
	}

	stderr := strings.TrimSpace(string(result.Stderr))
	for _, marker := range fatalRestoreMarkers {
		if strings.Contains(stderr, marker) {
			return nil, stepErr(StepRestore, fmt.Errorf("psql reported %q", marker), domain.Tail(result.Stderr, detailTail))
		}
	}
	if result.ExitCode != 0 {
		return nil, stepErr(StepRestore,
			fmt.Errorf("psql exited with code %d", result.ExitCode),
			domain.Tail(result.Stderr, detailTail))
	}

	if stderr == "" {
		return nil, nil
	}
	pf := &domain.PartialFailure{Op: "restore", Detail: domain.Tail(result.Stderr, detailTail)}
	log.Warn().Err(pf).Msg("restore completed with warnings")
	return []string{pf.Error()}, nil
}

// verify counts user tables in the destination. Failures are only logged.
func (s *Service) verify(ctx context.Context, containerID string, p plan) string {
	log := zerowrap.FromCtx(ctx)

	cmd := []string{
		"psql", "-U", p.username, "-d", p.dest.Name, "-t", "-A", "-c",
		"SELECT count(*) FROM information_schema.tables WHERE table_schema NOT IN ('pg_catalog', 'information_schema')",
	}
	result, err := s.runtime.ExecInContainer(ctx, containerID, cmd, nil)
	if err != nil {
		log.Warn().Err(err).Msg("verification query failed")
		return ""
	}
	if result.ExitCode != 0 {
		log.Warn().Int("exit_code", result.ExitCode).Str("stderr", domain.Tail(result.Stderr, detailTail)).Msg("verification query failed")
		return ""
	}

	count := strings.TrimSpace(string(result.Stdout))
	log.Info().Str("tables", count).Msg("destination verified")
	return count
}

func (s *Service) writeScratch(ctx context.Context, target string, dump []byte) string {
	if s.config.ScratchDir == "" {
		return ""
	}
	log := zerowrap.FromCtx(ctx)

	if err := os.MkdirAll(s.config.ScratchDir, 0o700); err != nil {
		log.Warn().Err(err).Msg("failed to create scratch dir")
		return ""
	}
	path := filepath.Join(s.config.ScratchDir, fmt.Sprintf("dump_%s_%d.sql", target, s.now().Unix()))
	if err := validation.ValidatePathWithinRoot(s.config.ScratchDir, path); err != nil {
		log.Warn().Err(err).Msg("refusing scratch path")
		return ""
	}
	if err := os.WriteFile(path, dump, 0o600); err != nil {
		log.Warn().Err(err).Msg("failed to write scratch dump")
		return ""
	}
	log.Debug().Str("path", path).Msg("scratch dump written")
	return path
}

func (s *Service) removeScratch(ctx context.Context, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log := zerowrap.FromCtx(ctx)
		log.Warn().Err(err).Str("path", path).Msg("failed to remove scratch dump")
	}
}

func isLoopback(host string) bool {
	return host == "localhost" || host == "127.0.0.1"
}

func withStep(ctx context.Context, step string) context.Context {
	return zerowrap.CtxWithFields(ctx, map[string]any{logging.FieldStep: step})
}
