package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/adapters/out/telemetry"
	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out/mocks"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func newTestEngine(t *testing.T) (*Engine, *mocks.MockContainerRuntime) {
	t.Helper()
	rt := mocks.NewMockContainerRuntime(t)
	src := mocks.NewMockSourceDatabase(t)
	return NewEngine(rt, src, telemetry.NewMetrics(), Config{}), rt
}

func migratedRecord(id string) domain.MigratedDatabase {
	return domain.MigratedDatabase{
		OriginalName:  "shop",
		ContainerID:   id,
		ContainerName: "postgres-shop",
		Port:          5433,
		MigratedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestEngine_Check(t *testing.T) {
	e, rt := newTestEngine(t)
	rt.On("Ping", mock.Anything).Return(nil)
	rt.On("Version", mock.Anything).Return("28.3.2", nil)

	report, err := e.Check(testContext())

	require.NoError(t, err)
	assert.Equal(t, &HealthReport{Docker: "ok", DockerVersion: "28.3.2"}, report)
}

func TestEngine_CheckUnreachable(t *testing.T) {
	e, rt := newTestEngine(t)
	rt.On("Ping", mock.Anything).Return(&domain.ConnectivityError{Target: "docker engine", Err: errors.New("refused")})

	_, err := e.Check(testContext())

	assert.ErrorIs(t, err, domain.ErrConnectivity)
	rt.AssertNotCalled(t, "Version", mock.Anything)
}

func TestEngine_RemoveDatabaseForgetsMigration(t *testing.T) {
	e, rt := newTestEngine(t)
	e.store.Append(migratedRecord("c1"))
	e.store.Append(migratedRecord("c2"))

	rt.On("InspectContainer", mock.Anything, "c1").Return(&domain.ContainerDetails{
		Container: domain.Container{ID: "c1", Name: "postgres-shop"},
	}, nil)
	rt.On("StopContainer", mock.Anything, "c1").Return(nil)
	rt.On("RemoveContainer", mock.Anything, "c1", true, false).Return(nil)

	require.NoError(t, e.RemoveDatabase(testContext(), "c1", false))

	records := e.ListMigrated(testContext())
	require.Len(t, records, 1)
	assert.Equal(t, "c2", records[0].ContainerID)
}

func TestEngine_RemoveDatabaseFailureKeepsRecord(t *testing.T) {
	e, rt := newTestEngine(t)
	e.store.Append(migratedRecord("c1"))
	rt.On("InspectContainer", mock.Anything, "c1").Return(nil, domain.ErrContainerNotFound)

	err := e.RemoveDatabase(testContext(), "c1", false)

	assert.ErrorIs(t, err, domain.ErrContainerNotFound)
	assert.Len(t, e.ListMigrated(testContext()), 1)
}

func TestEngine_UpdatePortMovesMigrationRecord(t *testing.T) {
	e, rt := newTestEngine(t)
	e.store.Append(migratedRecord("c1"))

	rt.On("InspectContainer", mock.Anything, "c1").Return(&domain.ContainerDetails{
		Container:    domain.Container{ID: "c1", Name: "postgres-shop", Image: "postgres:16", State: "exited"},
		PortMappings: []domain.PortMapping{{ContainerPort: 5432, HostPort: 5433}},
	}, nil)
	rt.On("ListContainers", mock.Anything, true, map[string]string(nil)).Return([]*domain.Container{
		{ID: "c1", Name: "postgres-shop", Ports: []int{5433}},
	}, nil)
	rt.On("RenameContainer", mock.Anything, "c1", "postgres-shop-old").Return(nil)
	rt.On("CreateContainer", mock.Anything, mock.MatchedBy(func(spec *domain.ContainerSpec) bool {
		return domain.HostPortFor(spec.Ports, 5432) == 5600
	})).Return(&domain.Container{ID: "c9", Name: "postgres-shop", Ports: []int{5600}}, nil)
	rt.On("StartContainer", mock.Anything, "c9").Return(nil)
	rt.On("RemoveContainer", mock.Anything, "c1", true, false).Return(nil)

	updated, err := e.UpdatePort(testContext(), "c1", 5600)

	require.NoError(t, err)
	assert.Equal(t, "c9", updated.ID)
	records := e.ListMigrated(testContext())
	require.Len(t, records, 1)
	assert.Equal(t, "c9", records[0].ContainerID)
	assert.Equal(t, 5600, records[0].Port)
}

func TestEngine_DatabaseTypes(t *testing.T) {
	e, _ := newTestEngine(t)

	types := e.DatabaseTypes()

	require.Len(t, types, 5)
	assert.Equal(t, domain.DatabasePostgreSQL, types[0].Type)
}

func TestEngine_EnsureImageRecordsPull(t *testing.T) {
	e, rt := newTestEngine(t)
	rt.On("ListImages", mock.Anything).Return([]domain.ImageDetail{}, nil)
	rt.On("PullImage", mock.Anything, "redis:7", mock.Anything).Return(nil)

	require.NoError(t, e.EnsureImage(testContext(), "redis:7"))

	assert.Equal(t, 1.0, testutil.ToFloat64(e.Metrics().ImagePullsTotal.WithLabelValues("success")))
}

func TestEngine_SerializesOperations(t *testing.T) {
	e, rt := newTestEngine(t)

	var inFlight, maxInFlight atomic.Int32
	rt.On("ListVolumes", mock.Anything).Run(func(mock.Arguments) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
	}).Return([]domain.VolumeInfo{}, nil)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.ListVolumes(testContext())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	rt.AssertNumberOfCalls(t, "ListVolumes", 4)
}
