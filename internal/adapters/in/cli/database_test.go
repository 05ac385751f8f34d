package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

type fakeDatabaseClient struct {
	createResp *domain.Container
	createErr  error
	listResp   []*domain.Container
	actionErr  error
	logsResp   []domain.LogEntry
	execResp   string

	lastCreate     domain.DatabaseConfig
	actions        []string
	lastRemoveVols bool
	lastPort       int
	lastSQL        string
	createCalls    int
}

func (f *fakeDatabaseClient) CreateDatabase(_ context.Context, cfg domain.DatabaseConfig) (*domain.Container, error) {
	f.createCalls++
	f.lastCreate = cfg
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.createResp, nil
}

func (f *fakeDatabaseClient) ListDatabases(_ context.Context) ([]*domain.Container, error) {
	return f.listResp, nil
}

func (f *fakeDatabaseClient) StartDatabase(_ context.Context, id string) error {
	f.actions = append(f.actions, "start "+id)
	return f.actionErr
}

func (f *fakeDatabaseClient) StopDatabase(_ context.Context, id string) error {
	f.actions = append(f.actions, "stop "+id)
	return f.actionErr
}

func (f *fakeDatabaseClient) RestartDatabase(_ context.Context, id string) error {
	f.actions = append(f.actions, "restart "+id)
	return f.actionErr
}

func (f *fakeDatabaseClient) RemoveDatabase(_ context.Context, id string, removeVolumes bool) error {
	f.actions = append(f.actions, "remove "+id)
	f.lastRemoveVols = removeVolumes
	return f.actionErr
}

func (f *fakeDatabaseClient) UpdatePort(_ context.Context, id string, port int) (*domain.Container, error) {
	f.lastPort = port
	return &domain.Container{ID: id + "-new", Ports: []int{port}}, f.actionErr
}

func (f *fakeDatabaseClient) Logs(_ context.Context, _ string, _ int) ([]domain.LogEntry, error) {
	return f.logsResp, f.actionErr
}

func (f *fakeDatabaseClient) ExecSQL(_ context.Context, _, _, _, sql string) (string, error) {
	f.lastSQL = sql
	return f.execResp, f.actionErr
}

func (f *fakeDatabaseClient) Backup(_ context.Context, id, database, _ string) (string, error) {
	return "/tmp/" + database + ".sql", f.actionErr
}

func TestRunDatabaseCreate_FillsCatalogDefaults(t *testing.T) {
	client := &fakeDatabaseClient{createResp: &domain.Container{ID: "c1", Name: "mysql-shop"}}

	var out bytes.Buffer
	err := runDatabaseCreate(context.Background(), client, databaseCreateOptions{
		Type:     "mysql",
		Name:     "shop",
		Password: "secret",
		Env:      []string{"TZ=UTC", "MYSQL_EXTRA=a=b"},
	}, &out)
	require.NoError(t, err)

	assert.Equal(t, 1, client.createCalls)
	assert.Equal(t, domain.DatabaseMySQL, client.lastCreate.Type)
	assert.Equal(t, 3306, client.lastCreate.Port)
	assert.Equal(t, "root", client.lastCreate.Username)
	assert.Equal(t, "8.4", client.lastCreate.Version)
	assert.Equal(t, map[string]string{"TZ": "UTC", "MYSQL_EXTRA": "a=b"}, client.lastCreate.Env)

	var got domain.Container
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "c1", got.ID)
}

func TestRunDatabaseCreate_RejectsBadInputBeforeCalling(t *testing.T) {
	tests := []struct {
		name string
		opts databaseCreateOptions
		want error
	}{
		{name: "unknown type", opts: databaseCreateOptions{Type: "oracle", Name: "x"}, want: domain.ErrUnknownDatabaseType},
		{name: "bad env pair", opts: databaseCreateOptions{Type: "redis", Name: "x", Env: []string{"NOVALUE"}}, want: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeDatabaseClient{}
			var out bytes.Buffer

			err := runDatabaseCreate(context.Background(), client, tt.opts, &out)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, 0, client.createCalls)
			assert.Empty(t, out.String())
		})
	}
}

func TestRunDatabaseCreate_WrapsEngineError(t *testing.T) {
	client := &fakeDatabaseClient{createErr: &domain.ConflictError{Resource: "port", Value: "5432", Owner: "other"}}

	err := runDatabaseCreate(context.Background(), client, databaseCreateOptions{Type: "postgresql", Name: "blog"}, &bytes.Buffer{})

	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Contains(t, err.Error(), "failed to create database")
}

func TestRunDatabaseList_EmptyIsArray(t *testing.T) {
	var out bytes.Buffer

	require.NoError(t, runDatabaseList(context.Background(), &fakeDatabaseClient{}, &out))

	assert.JSONEq(t, `[]`, out.String())
}

func TestRunDatabaseLifecycle(t *testing.T) {
	client := &fakeDatabaseClient{}

	for _, action := range []string{"start", "stop", "restart"} {
		var out bytes.Buffer
		require.NoError(t, runDatabaseLifecycle(context.Background(), client, action, "c1", &out))
		assert.JSONEq(t, `{"id":"c1","status":"`+lifecycleStatus[action]+`"}`, out.String())
	}

	assert.Equal(t, []string{"start c1", "stop c1", "restart c1"}, client.actions)
	assert.Error(t, runDatabaseLifecycle(context.Background(), client, "pause", "c1", &bytes.Buffer{}))
}

func TestRunDatabaseRemove_PassesVolumesFlag(t *testing.T) {
	client := &fakeDatabaseClient{}
	var out bytes.Buffer

	require.NoError(t, runDatabaseRemove(context.Background(), client, "c1", true, &out))

	assert.True(t, client.lastRemoveVols)
	assert.JSONEq(t, `{"id":"c1","status":"removed"}`, out.String())
}

func TestRunDatabaseRemove_Error(t *testing.T) {
	client := &fakeDatabaseClient{actionErr: domain.ErrContainerNotFound}

	err := runDatabaseRemove(context.Background(), client, "c1", false, &bytes.Buffer{})

	assert.ErrorIs(t, err, domain.ErrContainerNotFound)
}

func TestRunDatabasePort(t *testing.T) {
	client := &fakeDatabaseClient{}
	var out bytes.Buffer

	require.NoError(t, runDatabasePort(context.Background(), client, "c1", "5600", &out))
	assert.Equal(t, 5600, client.lastPort)
	assert.Contains(t, out.String(), `"c1-new"`)

	err := runDatabasePort(context.Background(), client, "c1", "high", &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRunDatabaseExecAndBackup(t *testing.T) {
	client := &fakeDatabaseClient{execResp: " count \n-------\n     3\n"}

	var out bytes.Buffer
	require.NoError(t, runDatabaseExec(context.Background(), client, "c1", sqlOptions{Database: "shop"}, "SELECT count(*) FROM orders", &out))
	assert.Equal(t, "SELECT count(*) FROM orders", client.lastSQL)
	assert.Contains(t, out.String(), `"output"`)

	out.Reset()
	require.NoError(t, runDatabaseBackup(context.Background(), client, "c1", sqlOptions{Database: "shop"}, &out))
	assert.JSONEq(t, `{"id":"c1","path":"/tmp/shop.sql"}`, out.String())
}

func TestRunDatabaseLogs_Error(t *testing.T) {
	client := &fakeDatabaseClient{actionErr: errors.New("boom")}

	err := runDatabaseLogs(context.Background(), client, "c1", 10, &bytes.Buffer{})

	assert.ErrorContains(t, err, "failed to read logs")
}
