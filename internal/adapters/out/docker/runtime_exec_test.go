package docker

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bnema/zerowrap"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

func testContext() context.Context {
	return zerowrap.WithCtx(context.Background(), zerowrap.Default())
}

func newRuntimeForHTTPServer(t *testing.T, server *httptest.Server) *Runtime {
	t.Helper()

	host := strings.TrimPrefix(server.URL, "http://")
	cli, err := client.NewClientWithOpts(client.WithHost("tcp://"+host), client.WithVersion("1.41"), client.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	return NewRuntimeWithClient(cli)
}

func TestParseExecOutput_SplitsStdoutAndStderr(t *testing.T) {
	stream := append(frameDockerStream(1, []byte("hello\n")), frameDockerStream(2, []byte("warn\n"))...)

	stdout, stderr, err := parseExecOutput(bytes.NewReader(stream))

	require.NoError(t, err)
	assert.Equal(t, []byte("hello\n"), stdout)
	assert.Equal(t, []byte("warn\n"), stderr)
}

func TestRuntime_ExecInContainer_RejectsEmptyCommand(t *testing.T) {
	r := &Runtime{}

	tests := []struct {
		name string
		cmd  []string
	}{
		{name: "nil", cmd: nil},
		{name: "empty slice", cmd: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.ExecInContainer(testContext(), "abc123", tt.cmd, nil)
			require.Error(t, err)
			assert.Nil(t, result)
		})
	}
}

func TestReadPullStream(t *testing.T) {
	stream := `{"status":"Pulling from library/postgres","id":"16"}
{"status":"Downloading","id":"a1b2","progressDetail":{"current":50,"total":100}}
{"status":"Status: Downloaded newer image for postgres:16"}
`
	var seen []domain.PullProgress

	err := readPullStream(strings.NewReader(stream), func(p domain.PullProgress) { seen = append(seen, p) })

	require.NoError(t, err)
	require.Len(t, seen, 3)
	assert.Equal(t, "16", seen[0].ID)
	assert.Equal(t, "Downloading", seen[1].Status)
	assert.NotEmpty(t, seen[1].Progress)
}

func TestReadPullStream_ErrorMessageFailsPull(t *testing.T) {
	stream := `{"status":"Pulling from library/postgres","id":"99"}
{"errorDetail":{"message":"manifest unknown"},"error":"manifest unknown"}
`
	err := readPullStream(strings.NewReader(stream), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "manifest unknown")
}

func TestParseLogLines(t *testing.T) {
	out := []byte("2024-05-01T10:00:00.000000001Z database system is ready\n\n2024-05-01T10:00:01.5Z listening on 5432\r\nnospace\n")

	entries := parseLogLines(out)

	require.Len(t, entries, 3)
	assert.Equal(t, "2024-05-01T10:00:00.000000001Z", entries[0].Timestamp)
	assert.Equal(t, "database system is ready", entries[0].Message)
	assert.Equal(t, "listening on 5432", entries[1].Message)
	assert.Equal(t, domain.LogEntry{Message: "nospace"}, entries[2])
}

func TestRuntime_Ping_UnreachableEngine(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	runtime := newRuntimeForHTTPServer(t, server)
	server.Close()

	err := runtime.Ping(testContext())

	assert.ErrorIs(t, err, domain.ErrConnectivity)
}

func frameDockerStream(streamID byte, payload []byte) []byte {
	frame := make([]byte, 8+len(payload))
	frame[0] = streamID
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame
}

func TestRuntime_CopyFromContainer_StreamsArchive(t *testing.T) {
	archive := []byte("tar bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1.41/containers/h1/archive", r.URL.Path)
		assert.Equal(t, "/volume", r.URL.Query().Get("path"))

		stat := base64.StdEncoding.EncodeToString([]byte(`{"name":"volume","size":4096,"mode":2147484141}`))
		w.Header().Set("X-Docker-Container-Path-Stat", stat)
		w.Header().Set("Content-Type", "application/x-tar")
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	runtime := newRuntimeForHTTPServer(t, server)
	rc, err := runtime.CopyFromContainer(testContext(), "h1", "/volume")
	require.NoError(t, err)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, archive, got)
}

func TestRuntime_CopyFromContainer_MissingContainer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"No such container: h1"}`))
	}))
	defer server.Close()

	runtime := newRuntimeForHTTPServer(t, server)
	_, err := runtime.CopyFromContainer(testContext(), "h1", "/volume")

	assert.ErrorIs(t, err, domain.ErrContainerNotFound)
}
