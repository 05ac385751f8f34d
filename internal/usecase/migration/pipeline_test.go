package migration

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out/mocks"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/internal/usecase/provision"
)

const dumpSQL = "CREATE TABLE orders (id int);\n"

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

type fakeImages struct {
	calls []string
}

func (f *fakeImages) Ensure(_ context.Context, image string) error {
	f.calls = append(f.calls, image)
	return nil
}

type fakeRemover struct {
	removed []string
	err     error
}

func (f *fakeRemover) RemoveDatabase(_ context.Context, containerID string, _ bool) error {
	f.removed = append(f.removed, containerID)
	return f.err
}

type harness struct {
	svc     *Service
	rt      *mocks.MockContainerRuntime
	src     *mocks.MockSourceDatabase
	images  *fakeImages
	remover *fakeRemover
	store   *Store
	metrics *mocks.MockMetricsRecorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	rt := mocks.NewMockContainerRuntime(t)
	src := mocks.NewMockSourceDatabase(t)
	h := &harness{
		rt:      rt,
		src:     src,
		images:  &fakeImages{},
		remover: &fakeRemover{},
		store:   NewStore(),
		metrics: &mocks.MockMetricsRecorder{},
	}
	if cfg.ReadyMaxAttempts == 0 {
		cfg.ReadyMaxAttempts = 3
	}
	h.svc = NewService(rt, src, provision.NewAllocator(rt, 0), h.images, h.remover, h.store, h.metrics, cfg)
	h.svc.newID = func() string { return "abcdef12-3456-7890-abcd-ef1234567890" }
	h.svc.now = func() time.Time { return time.Unix(1700000000, 0) }
	return h
}

func request() domain.MigrationRequest {
	return domain.MigrationRequest{
		Source: domain.SourceDatabase{
			Host:     "localhost",
			Port:     5432,
			Username: "postgres",
			Password: "pw",
			Database: "shop",
		},
	}
}

func cmdIs(name string, contains ...string) any {
	return mock.MatchedBy(func(cmd []string) bool {
		if len(cmd) == 0 || cmd[0] != name {
			return false
		}
		joined := strings.Join(cmd, " ")
		for _, c := range contains {
			if !strings.Contains(joined, c) {
				return false
			}
		}
		return true
	})
}

func isHelper(spec *domain.ContainerSpec) bool { return strings.HasPrefix(spec.Name, helperPrefix) }

// expectUntilDump sets up the calls every migration makes up to and
// including helper removal.
func (h *harness) expectUntilDump(stdout, stderr string) {
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{
		{ID: "other", Name: "postgres-blog", Ports: []int{5433}},
	}, nil)
	h.src.On("ServerVersion", mock.Anything, request().Source).
		Return("PostgreSQL 15.4 (Debian 15.4-1.pgdg120+1) on x86_64-pc-linux-gnu", nil)
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(isHelper)).
		Return(&domain.Container{ID: "helper1"}, nil).Once()
	h.rt.On("StartContainer", mock.Anything, "helper1").Return(nil)
	h.rt.On("ExecInContainer", mock.Anything, "helper1", cmdIs("pg_dump", "-d shop"), []string{"PGPASSWORD=pw"}).
		Return(&domain.ExecResult{Stdout: []byte(stdout), Stderr: []byte(stderr)}, nil)
	h.rt.On("RemoveContainer", mock.Anything, "helper1", true, false).Return(nil).Once()
}

func (h *harness) expectDestination() {
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
		return spec.Name == "postgres-shop"
	})).Return(&domain.Container{ID: "dest1", Name: "postgres-shop"}, nil).Once()
	h.rt.On("StartContainer", mock.Anything, "dest1").Return(nil)
}

func (h *harness) expectReadiness(exitCodes ...int) {
	for _, code := range exitCodes {
		h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("pg_isready"), []string(nil)).
			Return(&domain.ExecResult{ExitCode: code}, nil).Once()
	}
}

func (h *harness) expectRestore(restoreStderr string) {
	h.rt.On("CopyToContainer", mock.Anything, "dest1", "/tmp", mock.Anything).Return(nil).Once()
	h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("psql", "-f /tmp/migration_shop_1700000000.sql"), []string(nil)).
		Return(&domain.ExecResult{Stderr: []byte(restoreStderr)}, nil).Once()
	h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("psql", "information_schema.tables"), []string(nil)).
		Return(&domain.ExecResult{Stdout: []byte("4\n")}, nil).Once()
}

func TestMigrate_Success(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)
	h.expectRestore("")
	h.metrics.On("MigrationFinished", true, mock.Anything).Once()

	result, err := h.svc.Migrate(testContext(), request())

	require.NoError(t, err)
	assert.Equal(t, "dest1", result.Record.ContainerID)
	assert.Equal(t, "postgres-shop", result.Record.ContainerName)
	assert.Equal(t, "shop", result.Record.OriginalName)
	assert.Equal(t, 5434, result.Record.Port)
	assert.Equal(t, int64(len(dumpSQL)), result.Record.SizeBytes)
	assert.Equal(t, "4", result.TableCount)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, []string{"postgres:15"}, h.images.calls)
	assert.Equal(t, []domain.MigratedDatabase{result.Record}, h.store.List())
	h.metrics.AssertExpectations(t)
}

func TestMigrate_DestinationSpec(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
		return spec.Name == "postgres-shop" &&
			spec.Image == "postgres:15" &&
			domain.HostPortFor(spec.Ports, 5432) == 5434 &&
			spec.Labels[domain.LabelMigrated] == "true" &&
			spec.Labels[domain.LabelOriginalSource] == "shop" &&
			spec.Labels[domain.LabelApp] == domain.AppLabelValue &&
			len(spec.Binds) == 1 && spec.Binds[0] == "postgres-shop-data:/var/lib/postgresql/data"
	})).Return(nil, errors.New("stop here")).Once()
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDestinationProvisioning, stepErr.Step)
}

func TestMigrate_HelperSpec(t *testing.T) {
	tests := []struct {
		name        string
		networkMode string
		wantHost    string
		wantExtra   []string
	}{
		{name: "host network keeps localhost", networkMode: "", wantHost: "-h localhost"},
		{
			name:        "bridge network rewrites loopback",
			networkMode: "bridge",
			wantHost:    "-h host.docker.internal",
			wantExtra:   []string{"host.docker.internal:host-gateway"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{HelperNetworkMode: tt.networkMode})
			wantMode := tt.networkMode
			if wantMode == "" {
				wantMode = "host"
			}

			h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{}, nil)
			h.src.On("ServerVersion", mock.Anything, mock.Anything).Return("PostgreSQL 16.1", nil)
			h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
				return spec.Name == "dbm-dump-abcdef12" &&
					spec.Image == "postgres:16" &&
					assert.ObjectsAreEqual([]string{"sleep", "3600"}, spec.Cmd) &&
					spec.NetworkMode == wantMode &&
					assert.ObjectsAreEqual(tt.wantExtra, spec.ExtraHosts)
			})).Return(&domain.Container{ID: "helper1"}, nil).Once()
			h.rt.On("StartContainer", mock.Anything, "helper1").Return(nil)
			h.rt.On("ExecInContainer", mock.Anything, "helper1", cmdIs("pg_dump", tt.wantHost, "-p 5432", "-U postgres"), mock.Anything).
				Return(&domain.ExecResult{}, nil)
			h.rt.On("RemoveContainer", mock.Anything, "helper1", true, false).Return(nil).Once()
			h.metrics.On("MigrationFinished", false, mock.Anything).Once()

			_, err := h.svc.Migrate(testContext(), request())

			assert.ErrorIs(t, err, domain.ErrEmptyDump)
		})
	}
}

func TestMigrate_EmptyDumpRemovesHelperOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump("", "pg_dump: error: connection to server at \"localhost\" failed: Connection refused")
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmptyDump)
	assert.ErrorIs(t, err, domain.ErrPipeline)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDumpExtraction, stepErr.Step)
	assert.Contains(t, err.Error(), "Connection refused")

	h.rt.AssertNumberOfCalls(t, "RemoveContainer", 1)
	h.rt.AssertNumberOfCalls(t, "CreateContainer", 1)
	assert.Empty(t, h.store.List())
}

func TestMigrate_DumpNonZeroExitFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{}, nil)
	h.src.On("ServerVersion", mock.Anything, mock.Anything).Return("PostgreSQL 16.1", nil)
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(isHelper)).Return(&domain.Container{ID: "helper1"}, nil)
	h.rt.On("StartContainer", mock.Anything, "helper1").Return(nil)
	h.rt.On("ExecInContainer", mock.Anything, "helper1", mock.Anything, mock.Anything).
		Return(&domain.ExecResult{ExitCode: 1, Stdout: []byte("--\n"), Stderr: []byte("pg_dump: error: aborting")}, nil)
	h.rt.On("RemoveContainer", mock.Anything, "helper1", true, false).Return(nil).Once()
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborting")
	h.rt.AssertNumberOfCalls(t, "RemoveContainer", 1)
}

func TestMigrate_HelperStartFailureRemovesHelperOnce(t *testing.T) {
	h := newHarness(t, Config{})
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{}, nil)
	h.src.On("ServerVersion", mock.Anything, mock.Anything).Return("PostgreSQL 16.1", nil)
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(isHelper)).Return(&domain.Container{ID: "helper1"}, nil)
	h.rt.On("StartContainer", mock.Anything, "helper1").Return(errors.New("no such image"))
	h.rt.On("RemoveContainer", mock.Anything, "helper1", true, false).Return(nil).Once()
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.Error(t, err)
	h.rt.AssertNumberOfCalls(t, "RemoveContainer", 1)
	h.rt.AssertNotCalled(t, "ExecInContainer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMigrate_HelperRemovedWhenContextCancelled(t *testing.T) {
	h := newHarness(t, Config{HelperSettleDelay: time.Hour})
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{}, nil)
	h.src.On("ServerVersion", mock.Anything, mock.Anything).Return("PostgreSQL 16.1", nil)
	h.rt.On("CreateContainer", mock.Anything, mock.MatchedBy(isHelper)).Return(&domain.Container{ID: "helper1"}, nil)

	ctx, cancel := context.WithCancel(testContext())
	h.rt.On("StartContainer", mock.Anything, "helper1").Run(func(mock.Arguments) { cancel() }).Return(nil)
	h.rt.On("RemoveContainer", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "helper1", true, false).
		Return(nil).Once()
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(ctx, request())

	assert.ErrorIs(t, err, context.Canceled)
	h.rt.AssertNumberOfCalls(t, "RemoveContainer", 1)
}

func TestMigrate_ReadinessTimesOut(t *testing.T) {
	h := newHarness(t, Config{ReadyMaxAttempts: 4})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(2, 2, 2, 2)
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepReadinessPoll, stepErr.Step)

	// Only the helper is removed; the destination stays for inspection.
	h.rt.AssertNumberOfCalls(t, "RemoveContainer", 1)
	h.rt.AssertNotCalled(t, "CopyToContainer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, h.store.List())
}

func TestMigrate_ReadyAtAttemptK(t *testing.T) {
	h := newHarness(t, Config{ReadyMaxAttempts: 5})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(2, 2, 0)
	h.expectRestore("")
	h.metrics.On("MigrationFinished", true, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.NoError(t, err)
	h.rt.AssertNumberOfCalls(t, "CopyToContainer", 1)
	assert.Len(t, h.store.List(), 1)
}

func TestMigrate_TransfersDumpAsSingleEntryTar(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)

	var names []string
	var body []byte
	h.rt.On("CopyToContainer", mock.Anything, "dest1", "/tmp", mock.Anything).Run(func(args mock.Arguments) {
		tr := tar.NewReader(args.Get(3).(io.Reader))
		for {
			hdr, err := tr.Next()
			if err != nil {
				return
			}
			names = append(names, hdr.Name)
			body, _ = io.ReadAll(tr)
		}
	}).Return(errors.New("disk full")).Once()
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepArtifactTransfer, stepErr.Step)
	assert.Equal(t, []string{"migration_shop_1700000000.sql"}, names)
	assert.Equal(t, dumpSQL, string(body))
}

func TestMigrate_RestoreFatalMarkerFails(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)
	h.rt.On("CopyToContainer", mock.Anything, "dest1", "/tmp", mock.Anything).Return(nil)
	h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("psql", "-f"), []string(nil)).
		Return(&domain.ExecResult{Stderr: []byte("psql: error: FATAL:  role \"postgres\" does not exist")}, nil)
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepRestore, stepErr.Step)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Empty(t, h.store.List())
}

func TestMigrate_RestoreWarningsAreTolerated(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)
	h.expectRestore("psql:/tmp/x.sql:12: ERROR:  extension \"plpgsql\" already exists")
	h.metrics.On("MigrationFinished", true, mock.Anything).Once()

	result, err := h.svc.Migrate(testContext(), request())

	require.NoError(t, err)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "already exists")
}

func TestMigrate_VerificationFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, Config{})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)
	h.rt.On("CopyToContainer", mock.Anything, "dest1", "/tmp", mock.Anything).Return(nil)
	h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("psql", "-f"), []string(nil)).Return(&domain.ExecResult{}, nil)
	h.rt.On("ExecInContainer", mock.Anything, "dest1", cmdIs("psql", "-c"), []string(nil)).Return(nil, errors.New("exec failed"))
	h.metrics.On("MigrationFinished", true, mock.Anything).Once()

	result, err := h.svc.Migrate(testContext(), request())

	require.NoError(t, err)
	assert.Empty(t, result.TableCount)
}

func TestMigrate_ScratchCopyRemovedOnSuccess(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, Config{ScratchDir: dir})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(0)
	h.expectRestore("")
	h.metrics.On("MigrationFinished", true, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMigrate_ScratchCopyKeptOnFailure(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, Config{ScratchDir: dir, ReadyMaxAttempts: 1})
	h.expectUntilDump(dumpSQL, "")
	h.expectDestination()
	h.expectReadiness(1)
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	require.Error(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "dump_shop_1700000000.sql"))
	require.NoError(t, err)
	assert.Equal(t, dumpSQL, string(data))
}

func TestMigrate_NameConflictFailsBeforeAnyWork(t *testing.T) {
	h := newHarness(t, Config{})
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{
		{ID: "c1", Name: "postgres-shop"},
	}, nil)
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	assert.ErrorIs(t, err, domain.ErrValidation)
	h.src.AssertNotCalled(t, "ServerVersion", mock.Anything, mock.Anything)
	h.rt.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
}

func TestMigrate_ServerVersionFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{}, nil)
	h.src.On("ServerVersion", mock.Anything, mock.Anything).
		Return("", &domain.ConnectivityError{Target: "localhost:5432", Err: errors.New("refused")})
	h.metrics.On("MigrationFinished", false, mock.Anything).Once()

	_, err := h.svc.Migrate(testContext(), request())

	assert.ErrorIs(t, err, domain.ErrConnectivity)
	var stepErr *domain.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepVersionProbe, stepErr.Step)
	h.rt.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
}

func TestMigrate_InvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.MigrationRequest)
	}{
		{name: "missing host", mutate: func(r *domain.MigrationRequest) { r.Source.Host = "" }},
		{name: "missing database", mutate: func(r *domain.MigrationRequest) { r.Source.Database = "" }},
		{name: "no password anywhere", mutate: func(r *domain.MigrationRequest) { r.Source.Password = "" }},
		{name: "bad target name", mutate: func(r *domain.MigrationRequest) { r.TargetName = "my shop" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.metrics.On("MigrationFinished", false, mock.Anything).Once()
			req := request()
			tt.mutate(&req)

			_, err := h.svc.Migrate(testContext(), req)

			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}
