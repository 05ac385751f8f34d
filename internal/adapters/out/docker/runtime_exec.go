package docker

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/bnema/zerowrap"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ExecInContainer runs cmd inside a running container and waits for it to
// exit. env entries are KEY=VALUE and apply to this command only.
func (r *Runtime) ExecInContainer(ctx context.Context, containerID string, cmd []string, env []string) (*domain.ExecResult, error) {
	if len(cmd) == 0 {
		return nil, errors.New("exec command is empty")
	}

	ctx = r.logCtx(ctx, "ExecInContainer", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"command":             cmd[0],
	})
	log := zerowrap.FromCtx(ctx)

	created, err := r.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, log.WrapErr(classifyContainer(err), "failed to create exec")
	}

	attached, err := r.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to attach to exec")
	}
	defer attached.Close()

	stdout, stderr, err := parseExecOutput(attached.Reader)
	if err != nil {
		return nil, log.WrapErr(err, "failed to read exec output")
	}

	inspect, err := r.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to inspect exec")
	}

	log.Debug().
		Int("exit_code", inspect.ExitCode).
		Int("stdout_bytes", len(stdout)).
		Int("stderr_bytes", len(stderr)).
		Msg("exec finished")

	return &domain.ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}, nil
}

// parseExecOutput demultiplexes a non-TTY engine stream into stdout and stderr.
func parseExecOutput(r io.Reader) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, r); err != nil {
		return nil, nil, err
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}

// CopyToContainer extracts a tar archive into dstDir inside the container.
func (r *Runtime) CopyToContainer(ctx context.Context, containerID, dstDir string, tarArchive io.Reader) error {
	ctx = r.logCtx(ctx, "CopyToContainer", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"dst":                 dstDir,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.CopyToContainer(ctx, containerID, dstDir, tarArchive, container.CopyToContainerOptions{})
	if err != nil {
		return log.WrapErr(classifyContainer(err), "failed to copy into container")
	}

	log.Debug().Msg("archive copied into container")
	return nil
}

// CopyFromContainer streams srcPath out of a container as a tar archive.
func (r *Runtime) CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, error) {
	ctx = r.logCtx(ctx, "CopyFromContainer", map[string]any{
		zerowrap.FieldEntityID: containerID,
		"src":                 srcPath,
	})
	log := zerowrap.FromCtx(ctx)

	rc, stat, err := r.client.CopyFromContainer(ctx, containerID, srcPath)
	if err != nil {
		return nil, log.WrapErr(classifyContainer(err), "failed to copy from container")
	}

	log.Debug().Str("name", stat.Name).Int64("size", stat.Size).Msg("archive stream opened")
	return rc, nil
}
