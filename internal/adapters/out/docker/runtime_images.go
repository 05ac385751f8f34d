package docker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/jsonmessage"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ListImages lists local images.
func (r *Runtime) ListImages(ctx context.Context) ([]domain.ImageDetail, error) {
	ctx = r.logCtx(ctx, "ListImages", nil)
	log := zerowrap.FromCtx(ctx)

	images, err := r.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to list images")
	}

	result := make([]domain.ImageDetail, 0, len(images))
	for _, img := range images {
		var tags []string
		for _, tag := range img.RepoTags {
			if tag != "<none>:<none>" {
				tags = append(tags, tag)
			}
		}
		result = append(result, domain.ImageDetail{
			ID:       img.ID,
			RepoTags: tags,
			Size:     img.Size,
			Created:  time.Unix(img.Created, 0).UTC(),
		})
	}

	return result, nil
}

// PullImage pulls an image, reporting each progress message to progress.
// The pull is done when the response stream ends without an error message.
func (r *Runtime) PullImage(ctx context.Context, imageRef string, progress func(domain.PullProgress)) error {
	ctx = r.logCtx(ctx, "PullImage", map[string]any{"image": imageRef})
	log := zerowrap.FromCtx(ctx)

	log.Info().Msg("pulling image")

	reader, err := r.client.ImagePull(ctx, imageRef, image.PullOptions{})
	if err != nil {
		return log.WrapErr(classify(err), "failed to pull image")
	}
	defer reader.Close()

	if err := readPullStream(reader, progress); err != nil {
		return log.WrapErr(err, "failed to read pull response")
	}

	log.Info().Msg("image pulled successfully")
	return nil
}

// readPullStream decodes the JSON message stream of a pull. A message with
// an error field fails the pull.
func readPullStream(r io.Reader, progress func(domain.PullProgress)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if msg.ErrorMessage != "" {
			return errors.New(msg.ErrorMessage)
		}
		if progress != nil {
			p := domain.PullProgress{ID: msg.ID, Status: msg.Status}
			if msg.Progress != nil {
				p.Progress = msg.Progress.String()
			}
			progress(p)
		}
	}
}

// RemoveImage removes an image.
func (r *Runtime) RemoveImage(ctx context.Context, imageRef string, force bool) error {
	ctx = r.logCtx(ctx, "RemoveImage", map[string]any{
		"image": imageRef,
		"force": force,
	})
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.ImageRemove(ctx, imageRef, image.RemoveOptions{Force: force, PruneChildren: true})
	if err != nil {
		return log.WrapErr(classify(err), "failed to remove image")
	}

	log.Info().Msg("image removed")
	return nil
}
