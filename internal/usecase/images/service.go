// Package images implements the image provisioning use case.
package images

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
	"github.com/alemelgarejo/docker-database-manager/pkg/validation"
)

// DefaultPullTimeout bounds a single image pull.
const DefaultPullTimeout = 600 * time.Second

// Config holds configuration needed by the images service.
type Config struct {
	PullTimeout time.Duration
}

// Service implements image provisioning and management.
type Service struct {
	runtime out.ContainerRuntime
	metrics out.MetricsRecorder
	config  Config
}

// NewService creates a new images service.
func NewService(runtime out.ContainerRuntime, metrics out.MetricsRecorder, config Config) *Service {
	if config.PullTimeout <= 0 {
		config.PullTimeout = DefaultPullTimeout
	}
	return &Service{
		runtime: runtime,
		metrics: out.MetricsOrNop(metrics),
		config:  config,
	}
}

// Ensure makes image available locally. A present image causes no pull.
func (s *Service) Ensure(ctx context.Context, image string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "EnsureImage",
		"image":              image,
	})
	log := zerowrap.FromCtx(ctx)

	present, err := s.isPresent(ctx, image)
	if err != nil {
		log.Error().Err(err).Msg("failed to list local images")
		return &domain.ImageError{Image: image, Kind: domain.ImageListFailed, Err: err}
	}
	if present {
		log.Debug().Msg("image already present")
		return nil
	}

	return s.pull(ctx, image)
}

// Pull pulls image even when a local copy exists.
func (s *Service) Pull(ctx context.Context, image string) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "PullImage",
		"image":              image,
	})
	return s.pull(ctx, image)
}

func (s *Service) pull(ctx context.Context, image string) error {
	log := zerowrap.FromCtx(ctx)
	log.Info().Dur("timeout", s.config.PullTimeout).Msg("pulling image")

	pullCtx, cancel := context.WithTimeout(ctx, s.config.PullTimeout)
	defer cancel()

	err := s.runtime.PullImage(pullCtx, image, func(p domain.PullProgress) {
		log.Debug().Str("layer", p.ID).Str("status", p.Status).Str("progress", p.Progress).Msg("pull progress")
	})
	if err != nil {
		s.metrics.ImagePulled(false)
		if errors.Is(pullCtx.Err(), context.DeadlineExceeded) {
			log.Error().Err(err).Msg("image pull timed out")
			return &domain.ImageError{
				Image: image,
				Kind:  domain.ImagePullTimeout,
				Err:   &domain.TimeoutError{Op: "image pull", After: s.config.PullTimeout},
			}
		}
		log.Error().Err(err).Msg("image pull failed")
		return &domain.ImageError{Image: image, Kind: domain.ImagePullFailed, Err: err}
	}

	s.metrics.ImagePulled(true)
	log.Info().Msg("image pulled")
	return nil
}

func (s *Service) isPresent(ctx context.Context, image string) (bool, error) {
	details, err := s.runtime.ListImages(ctx)
	if err != nil {
		return false, err
	}
	for _, detail := range details {
		for _, tag := range detail.RepoTags {
			if validation.SameImage(tag, image) {
				return true, nil
			}
		}
	}
	return false, nil
}

// ListImages returns images known by the runtime, one entry per tag.
func (s *Service) ListImages(ctx context.Context) ([]domain.ImageInfo, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "ListImages",
	})
	log := zerowrap.FromCtx(ctx)

	details, err := s.runtime.ListImages(ctx)
	if err != nil {
		return nil, log.WrapErr(err, "failed to list images")
	}

	images := make([]domain.ImageInfo, 0, len(details))
	for _, detail := range details {
		if isDanglingImage(detail.RepoTags) {
			images = append(images, domain.ImageInfo{
				ID:       detail.ID,
				Size:     detail.Size,
				Created:  detail.Created,
				Dangling: true,
			})
			continue
		}

		for _, repoTag := range detail.RepoTags {
			if repoTag == "" || repoTag == "<none>:<none>" {
				continue
			}
			repository, tag := splitRepoTag(repoTag)
			images = append(images, domain.ImageInfo{
				ID:         detail.ID,
				Repository: repository,
				Tag:        tag,
				Size:       detail.Size,
				Created:    detail.Created,
			})
		}
	}

	return images, nil
}

// Remove removes a local image.
func (s *Service) Remove(ctx context.Context, image string, force bool) error {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "RemoveImage",
		"image":              image,
	})
	log := zerowrap.FromCtx(ctx)

	if err := s.runtime.RemoveImage(ctx, image, force); err != nil {
		return log.WrapErr(err, "failed to remove image")
	}
	return nil
}

func isDanglingImage(repoTags []string) bool {
	for _, tag := range repoTags {
		if tag == "<none>:<none>" || tag == "" {
			continue
		}
		return false
	}
	return true
}

func splitRepoTag(repoTag string) (string, string) {
	idx := strings.LastIndex(repoTag, ":")
	if idx <= 0 || idx >= len(repoTag)-1 || strings.Contains(repoTag[idx:], "/") {
		return repoTag, ""
	}
	return repoTag[:idx], repoTag[idx+1:]
}
