package volumes

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out/mocks"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func TestService_List_SortsByName(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})
	rt.On("ListVolumes", mock.Anything).Return([]domain.VolumeInfo{
		{Name: "redis-cache-data"},
		{Name: "postgres-shop-data", InUse: true},
		{Name: "mysql-blog-data"},
	}, nil)

	vols, err := svc.List(testContext())

	require.NoError(t, err)
	require.Len(t, vols, 3)
	assert.Equal(t, "mysql-blog-data", vols[0].Name)
	assert.Equal(t, "postgres-shop-data", vols[1].Name)
	assert.True(t, vols[1].InUse)
	assert.Equal(t, "redis-cache-data", vols[2].Name)
}

func TestService_Remove(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})
	rt.On("RemoveVolume", mock.Anything, "postgres-shop-data", true).Return(nil).Once()

	require.NoError(t, svc.Remove(testContext(), "postgres-shop-data", true))
}

func TestService_Remove_EmptyName(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})

	err := svc.Remove(testContext(), "  ", false)

	assert.ErrorIs(t, err, domain.ErrValidation)
	rt.AssertNotCalled(t, "RemoveVolume", mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Remove_InUse(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})
	inUse := errors.New("volume is in use")
	rt.On("RemoveVolume", mock.Anything, "postgres-shop-data", false).Return(inUse)

	err := svc.Remove(testContext(), "postgres-shop-data", false)

	assert.ErrorIs(t, err, inUse)
}

func TestService_Prune(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})
	rt.On("PruneVolumes", mock.Anything).Return(&domain.PruneReport{
		Deleted:        []string{"old-data"},
		SpaceReclaimed: 1 << 20,
	}, nil)

	report, err := svc.Prune(testContext())

	require.NoError(t, err)
	assert.Equal(t, []string{"old-data"}, report.Deleted)
	assert.Equal(t, uint64(1<<20), report.SpaceReclaimed)
}

func TestService_Prune_NothingToDelete(t *testing.T) {
	rt := mocks.NewMockContainerRuntime(t)
	svc := NewService(rt, &fakeImages{}, Config{})
	rt.On("PruneVolumes", mock.Anything).Return(&domain.PruneReport{}, nil)

	report, err := svc.Prune(testContext())

	require.NoError(t, err)
	assert.NotNil(t, report.Deleted)
	assert.Empty(t, report.Deleted)
}
