package docker

import (
	"context"
	"fmt"
	"sort"

	"github.com/bnema/zerowrap"
	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ListVolumes lists named volumes. InUse is derived from the mounts of all
// containers, running or not.
func (r *Runtime) ListVolumes(ctx context.Context) ([]domain.VolumeInfo, error) {
	ctx = r.logCtx(ctx, "ListVolumes", nil)
	log := zerowrap.FromCtx(ctx)

	resp, err := r.client.VolumeList(ctx, volume.ListOptions{})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to list volumes")
	}
	for _, w := range resp.Warnings {
		log.Warn().Msg(w)
	}

	containers, err := r.client.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to list containers")
	}
	used := make(map[string]bool)
	for _, c := range containers {
		for _, m := range c.Mounts {
			if m.Name != "" {
				used[m.Name] = true
			}
		}
	}

	result := make([]domain.VolumeInfo, 0, len(resp.Volumes))
	for _, v := range resp.Volumes {
		info := domain.VolumeInfo{
			Name:       v.Name,
			Driver:     v.Driver,
			Mountpoint: v.Mountpoint,
			CreatedAt:  v.CreatedAt,
			Labels:     v.Labels,
			SizeBytes:  -1,
			InUse:      used[v.Name],
		}
		if v.UsageData != nil {
			info.SizeBytes = v.UsageData.Size
		}
		result = append(result, info)
	}
	return result, nil
}

// CreateVolume creates a named volume.
func (r *Runtime) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	ctx = r.logCtx(ctx, "CreateVolume", map[string]any{"volume": name})
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Labels: labels,
	})
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return fmt.Errorf("%w: %s", domain.ErrVolumeExists, name)
		}
		return log.WrapErr(classify(err), "failed to create volume")
	}

	log.Info().Msg("volume created")
	return nil
}

// RemoveVolume removes a named volume. A missing volume is not an error.
func (r *Runtime) RemoveVolume(ctx context.Context, name string, force bool) error {
	ctx = r.logCtx(ctx, "RemoveVolume", map[string]any{
		"volume": name,
		"force":  force,
	})
	log := zerowrap.FromCtx(ctx)

	err := r.client.VolumeRemove(ctx, name, force)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			log.Debug().Msg("volume not found, already removed")
			return nil
		}
		return log.WrapErr(classify(err), "failed to remove volume")
	}

	log.Info().Msg("volume removed")
	return nil
}

// PruneVolumes removes every unused volume, named ones included.
func (r *Runtime) PruneVolumes(ctx context.Context) (*domain.PruneReport, error) {
	ctx = r.logCtx(ctx, "PruneVolumes", nil)
	log := zerowrap.FromCtx(ctx)

	report, err := r.client.VolumesPrune(ctx, filters.NewArgs(filters.Arg("all", "true")))
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to prune volumes")
	}

	log.Info().Int("deleted", len(report.VolumesDeleted)).Msg("volumes pruned")
	return &domain.PruneReport{
		Deleted:        report.VolumesDeleted,
		SpaceReclaimed: report.SpaceReclaimed,
	}, nil
}

// CreateNetwork creates a bridge network.
func (r *Runtime) CreateNetwork(ctx context.Context, name string, labels map[string]string) error {
	ctx = r.logCtx(ctx, "CreateNetwork", map[string]any{"network": name})
	log := zerowrap.FromCtx(ctx)

	_, err := r.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	if err != nil {
		if cerrdefs.IsConflict(err) {
			return fmt.Errorf("%w: %s", domain.ErrNetworkExists, name)
		}
		return log.WrapErr(classify(err), "failed to create network")
	}

	log.Info().Msg("network created")
	return nil
}

// RemoveNetwork removes a network. A missing network is not an error.
func (r *Runtime) RemoveNetwork(ctx context.Context, name string) error {
	ctx = r.logCtx(ctx, "RemoveNetwork", map[string]any{"network": name})
	log := zerowrap.FromCtx(ctx)

	err := r.client.NetworkRemove(ctx, name)
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			log.Debug().Msg("network not found, already removed")
			return nil
		}
		return log.WrapErr(classify(err), "failed to remove network")
	}

	log.Info().Msg("network removed")
	return nil
}

// ListNetworks lists all Docker networks.
func (r *Runtime) ListNetworks(ctx context.Context) ([]*domain.NetworkInfo, error) {
	ctx = r.logCtx(ctx, "ListNetworks", nil)
	log := zerowrap.FromCtx(ctx)

	networks, err := r.client.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return nil, log.WrapErr(classify(err), "failed to list networks")
	}

	result := make([]*domain.NetworkInfo, 0, len(networks))
	for _, net := range networks {
		var containers []string
		for containerID := range net.Containers {
			containers = append(containers, containerID)
		}
		sort.Strings(containers)

		result = append(result, &domain.NetworkInfo{
			ID:         net.ID,
			Name:       net.Name,
			Driver:     net.Driver,
			Containers: containers,
			Labels:     net.Labels,
		})
	}

	return result, nil
}
