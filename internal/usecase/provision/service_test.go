package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out/mocks"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type fakeImages struct {
	calls []string
	err   error
}

func (f *fakeImages) Ensure(_ context.Context, image string) error {
	f.calls = append(f.calls, image)
	return f.err
}

func newTestService(t *testing.T) (*Service, *mocks.MockContainerRuntime, *fakeImages) {
	t.Helper()
	rt := mocks.NewMockContainerRuntime(t)
	images := &fakeImages{}
	svc := NewService(rt, NewAllocator(rt, 0), images, Config{})
	return svc, rt, images
}

func validConfig() domain.DatabaseConfig {
	return domain.DatabaseConfig{
		Name:     "blog",
		Username: "app",
		Password: "secret",
		Port:     5440,
		Version:  "16",
		Type:     domain.DatabasePostgreSQL,
	}
}

func TestService_CreateDatabase_Success(t *testing.T) {
	svc, rt, images := newTestService(t)

	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)
	rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
		return spec.Name == "postgres-blog" && spec.Image == "postgres:16" && domain.HostPortFor(spec.Ports, 5432) == 5440
	})).Return(&domain.Container{ID: "new1", Name: "postgres-blog"}, nil)
	rt.On("StartContainer", mock.Anything, "new1").Return(nil)

	ctr, err := svc.CreateDatabase(testContext(), validConfig())

	require.NoError(t, err)
	assert.Equal(t, "new1", ctr.ID)
	assert.Equal(t, []string{"postgres:16"}, images.calls)
}

func TestService_CreateDatabase_PortConflictDoesNotCreate(t *testing.T) {
	svc, rt, images := newTestService(t)
	cfg := validConfig()
	cfg.Port = 8080

	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)

	_, err := svc.CreateDatabase(testContext(), cfg)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "8080")
	assert.Empty(t, images.calls)
	rt.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
	rt.AssertNotCalled(t, "StartContainer", mock.Anything, mock.Anything)
}

func TestService_CreateDatabase_NameConflictFailsBeforeMutation(t *testing.T) {
	svc, rt, images := newTestService(t)
	cfg := validConfig()
	cfg.Name = "shop" // postgres-shop exists

	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil).Once()

	_, err := svc.CreateDatabase(testContext(), cfg)

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "name", conflict.Resource)
	assert.Empty(t, images.calls)
	rt.AssertNumberOfCalls(t, "ListContainers", 1)
	rt.AssertNumberOfCalls(t, "CreateContainer", 0)
	rt.AssertNumberOfCalls(t, "StartContainer", 0)
}

func TestService_CreateDatabase_InvalidConfigTouchesNothing(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.DatabaseConfig)
	}{
		{name: "missing name", mutate: func(c *domain.DatabaseConfig) { c.Name = "" }},
		{name: "port out of range", mutate: func(c *domain.DatabaseConfig) { c.Port = 70000 }},
		{name: "unknown type", mutate: func(c *domain.DatabaseConfig) { c.Type = "oracle" }},
		{name: "bad memory", mutate: func(c *domain.DatabaseConfig) { c.MemoryLimit = "lots" }},
		{name: "bad restart policy", mutate: func(c *domain.DatabaseConfig) { c.RestartPolicy = "sometimes" }},
		{name: "name with spaces", mutate: func(c *domain.DatabaseConfig) { c.Name = "my db" }},
		{name: "postgres without password", mutate: func(c *domain.DatabaseConfig) { c.Password = "" }},
		{name: "mysql without password", mutate: func(c *domain.DatabaseConfig) {
			c.Type, c.Version, c.Password = domain.DatabaseMySQL, "8.0", ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, images := newTestService(t)
			cfg := validConfig()
			tt.mutate(&cfg)

			_, err := svc.CreateDatabase(testContext(), cfg)

			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Empty(t, images.calls)
		})
	}
}

func TestValidateConfig_PasswordOptionalWhenEngineAllowsIt(t *testing.T) {
	for _, dbType := range []domain.DatabaseType{domain.DatabaseMongoDB, domain.DatabaseRedis} {
		cfg := validConfig()
		cfg.Type, cfg.Version, cfg.Password = dbType, "", ""

		assert.NoError(t, ValidateConfig(cfg), dbType)
	}

	cfg := validConfig()
	cfg.Password = ""
	err := ValidateConfig(cfg)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "password", cfgErr.Field)
}

func TestService_CreateDatabase_ImageFailureStopsBeforeCreate(t *testing.T) {
	svc, rt, images := newTestService(t)
	images.err = &domain.ImageError{Image: "postgres:16", Kind: domain.ImagePullFailed, Err: errors.New("denied")}

	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)

	_, err := svc.CreateDatabase(testContext(), validConfig())

	assert.ErrorIs(t, err, domain.ErrImagePullFailed)
	rt.AssertNotCalled(t, "CreateContainer", mock.Anything, mock.Anything)
}

func TestService_CreateDatabase_StartFailureRemovesContainer(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)
	rt.On("CreateContainer", mock.Anything, mock.Anything).Return(&domain.Container{ID: "new1"}, nil)
	rt.On("StartContainer", mock.Anything, "new1").Return(errors.New("port is already allocated"))
	rt.On("RemoveContainer", mock.Anything, "new1", true, false).Return(nil).Once()

	_, err := svc.CreateDatabase(testContext(), validConfig())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start container")
}

func TestService_ListDatabases_FiltersByAppLabel(t *testing.T) {
	svc, rt, _ := newTestService(t)
	rt.On("ListContainers", mock.Anything, true, map[string]string{domain.LabelApp: domain.AppLabelValue}).
		Return([]*domain.Container{{ID: "c1"}}, nil)

	got, err := svc.ListDatabases(testContext())

	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestService_RemoveDatabase_StopsThenForceRemovesWithVolumes(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("InspectContainer", mock.Anything, "c1").Return(&domain.ContainerDetails{
		Container: domain.Container{ID: "c1", Name: "postgres-shop"},
		Mounts: []domain.Mount{
			{Type: "volume", Name: "postgres-shop-data", Destination: "/var/lib/postgresql/data"},
			{Type: "bind", Source: "/home/me/init", Destination: "/docker-entrypoint-initdb.d"},
		},
	}, nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(errors.New("already stopped"))
	rt.On("RemoveContainer", mock.Anything, "c1", true, true).Return(nil).Once()
	rt.On("RemoveVolume", mock.Anything, "postgres-shop-data", true).Return(nil).Once()

	err := svc.RemoveDatabase(testContext(), "c1", true)

	require.NoError(t, err)
	rt.AssertNumberOfCalls(t, "RemoveVolume", 1)
}

func TestService_RemoveDatabase_KeepsVolumesByDefault(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("InspectContainer", mock.Anything, "c1").Return(&domain.ContainerDetails{
		Container: domain.Container{ID: "c1", Name: "postgres-shop"},
		Mounts:    []domain.Mount{{Type: "volume", Name: "postgres-shop-data"}},
	}, nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(nil)
	rt.On("RemoveContainer", mock.Anything, "c1", true, false).Return(nil)

	require.NoError(t, svc.RemoveDatabase(testContext(), "c1", false))
	rt.AssertNotCalled(t, "RemoveVolume", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RemoveDatabase_MissingContainer(t *testing.T) {
	svc, rt, _ := newTestService(t)
	rt.On("InspectContainer", mock.Anything, "gone").Return(nil, domain.ErrContainerNotFound)

	err := svc.RemoveDatabase(testContext(), "gone", false)

	assert.ErrorIs(t, err, domain.ErrContainerNotFound)
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_RemoveDatabase_SettleDelayHonorsContext(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, NewAllocator(rt, 0), &fakeImages{}, Config{StopSettleDelay: time.Hour})

	rt.On("InspectContainer", mock.Anything, "c1").Return(&domain.ContainerDetails{Container: domain.Container{ID: "c1"}}, nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(nil)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	err := svc.RemoveDatabase(ctx, "c1", false)

	assert.ErrorIs(t, err, context.Canceled)
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func runningDetails() *domain.ContainerDetails {
	return &domain.ContainerDetails{
		Container: domain.Container{
			ID: "c1", Name: "postgres-shop", Image: "postgres:16", State: "running",
			Labels: map[string]string{domain.LabelApp: domain.AppLabelValue, domain.LabelDatabaseType: "postgresql"},
		},
		Env:          []string{"POSTGRES_PASSWORD=pw"},
		PortMappings: []domain.PortMapping{{ContainerPort: 5432, HostPort: 5432}},
		Mounts:       []domain.Mount{{Type: "volume", Name: "postgres-shop-data", Destination: "/var/lib/postgresql/data"}},
		NetworkMode:  "bridge",
	}
}

func TestService_UpdatePort_RecreatesWithNewBinding(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("InspectContainer", mock.Anything, "c1").Return(runningDetails(), nil)
	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(nil)
	rt.On("RenameContainer", mock.Anything, "c1", "postgres-shop-old").Return(nil)
	rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
		return spec.Name == "postgres-shop" &&
			domain.HostPortFor(spec.Ports, 5432) == 5441 &&
			len(spec.Binds) == 1 && spec.Binds[0] == "postgres-shop-data:/var/lib/postgresql/data" &&
			spec.NetworkMode == "bridge"
	})).Return(&domain.Container{ID: "c2", Name: "postgres-shop", Ports: []int{5441}}, nil)
	rt.On("StartContainer", mock.Anything, "c2").Return(nil)
	rt.On("RemoveContainer", mock.Anything, "c1", true, false).Return(nil)

	ctr, err := svc.UpdatePort(testContext(), "c1", 5441)

	require.NoError(t, err)
	assert.Equal(t, "c2", ctr.ID)
}

func TestService_UpdatePort_ConflictLeavesContainerUntouched(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("InspectContainer", mock.Anything, "c1").Return(runningDetails(), nil)
	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)

	_, err := svc.UpdatePort(testContext(), "c1", 8080)

	assert.ErrorIs(t, err, domain.ErrValidation)
	rt.AssertNotCalled(t, "StopContainer", mock.Anything, mock.Anything)
	rt.AssertNotCalled(t, "RenameContainer", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_UpdatePort_CreateFailureRestoresOriginal(t *testing.T) {
	svc, rt, _ := newTestService(t)

	rt.On("InspectContainer", mock.Anything, "c1").Return(runningDetails(), nil)
	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return(existingContainers(), nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(nil)
	rt.On("RenameContainer", mock.Anything, "c1", "postgres-shop-old").Return(nil).Once()
	rt.On("CreateContainer", mock.Anything, mock.Anything).Return(nil, errors.New("conflict"))
	rt.On("RenameContainer", mock.Anything, "c1", "postgres-shop").Return(nil).Once()
	rt.On("StartContainer", mock.Anything, "c1").Return(nil).Once()

	_, err := svc.UpdatePort(testContext(), "c1", 5441)

	require.Error(t, err)
}

func TestService_UpdatePort_SamePortIsNoop(t *testing.T) {
	svc, rt, _ := newTestService(t)
	rt.On("InspectContainer", mock.Anything, "c1").Return(runningDetails(), nil)

	ctr, err := svc.UpdatePort(testContext(), "c1", 5432)

	require.NoError(t, err)
	assert.Equal(t, "c1", ctr.ID)
	rt.AssertNotCalled(t, "ListContainers", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_ExecSQL_CommandPerType(t *testing.T) {
	tests := []struct {
		name    string
		details *domain.ContainerDetails
		user    string
		wantCmd []string
		wantEnv []string
	}{
		{
			name:    "postgres",
			details: runningDetails(),
			user:    "postgres",
			wantCmd: []string{"psql", "-U", "postgres", "-d", "shop", "-c", "SELECT 1"},
		},
		{
			name: "mysql root",
			details: &domain.ContainerDetails{
				Container: domain.Container{Labels: map[string]string{domain.LabelDatabaseType: "mysql"}},
				Env:       []string{"MYSQL_ROOT_PASSWORD=rootpw"},
			},
			user:    "root",
			wantCmd: []string{"mysql", "-u", "root", "-D", "shop", "-e", "SELECT 1"},
			wantEnv: []string{"MYSQL_PWD=rootpw"},
		},
		{
			name: "redis with password",
			details: &domain.ContainerDetails{
				Container: domain.Container{Labels: map[string]string{domain.LabelDatabaseType: "redis"}},
				Cmd:       []string{"redis-server", "--requirepass", "pw"},
			},
			wantCmd: []string{"redis-cli", "-a", "pw", "--no-auth-warning", "SELECT", "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, rt, _ := newTestService(t)
			rt.On("InspectContainer", mock.Anything, "c1").Return(tt.details, nil)
			rt.On("ExecInContainer", mock.Anything, "c1", tt.wantCmd, tt.wantEnv).
				Return(&domain.ExecResult{Stdout: []byte("ok\n")}, nil)

			out, err := svc.ExecSQL(testContext(), "c1", "shop", tt.user, "SELECT 1")

			require.NoError(t, err)
			assert.Equal(t, "ok\n", out)
		})
	}
}

func TestService_ExecSQL_NonZeroExit(t *testing.T) {
	svc, rt, _ := newTestService(t)
	rt.On("InspectContainer", mock.Anything, "c1").Return(runningDetails(), nil)
	rt.On("ExecInContainer", mock.Anything, "c1", mock.Anything, mock.Anything).
		Return(&domain.ExecResult{ExitCode: 1, Stderr: []byte("ERROR: relation \"x\" does not exist")}, nil)

	out, err := svc.ExecSQL(testContext(), "c1", "shop", "postgres", "SELECT * FROM x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
	assert.Contains(t, out, "does not exist")
}

func TestService_Backup_WritesTimestampedFile(t *testing.T) {
	svc, rt, _ := newTestService(t)
	svc.now = func() time.Time { return time.Unix(1700000000, 0) }

	rt.On("ExecInContainer", mock.Anything, "c1",
		[]string{"pg_dump", "-U", "postgres", "-d", "shop", "-f", "/tmp/backup_shop_1700000000.sql"},
		[]string(nil)).Return(&domain.ExecResult{}, nil)

	path, err := svc.Backup(testContext(), "c1", "shop", "postgres")

	require.NoError(t, err)
	assert.Equal(t, "/tmp/backup_shop_1700000000.sql", path)
}

func TestService_DatabaseTypes(t *testing.T) {
	svc, _, _ := newTestService(t)

	types := svc.DatabaseTypes()

	require.Len(t, types, 5)
	assert.Equal(t, domain.DatabasePostgreSQL, types[0].Type)
}
