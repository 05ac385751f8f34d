package docker

import (
	"context"
	"encoding/json"

	"github.com/bnema/zerowrap"
	"github.com/docker/docker/api/types/container"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// ContainerStats takes one non-streaming stats snapshot.
func (r *Runtime) ContainerStats(ctx context.Context, containerID string) (*domain.StatsSnapshot, error) {
	ctx = r.logCtx(ctx, "ContainerStats", map[string]any{zerowrap.FieldEntityID: containerID})
	log := zerowrap.FromCtx(ctx)

	resp, err := r.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		return nil, log.WrapErr(classifyContainer(err), "failed to get container stats")
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, log.WrapErr(err, "failed to decode container stats")
	}

	return snapshotFromStats(containerID, &raw), nil
}

func snapshotFromStats(containerID string, raw *container.StatsResponse) *domain.StatsSnapshot {
	snap := &domain.StatsSnapshot{
		ContainerID:      containerID,
		Name:             raw.Name,
		CPUTotalUsage:    raw.CPUStats.CPUUsage.TotalUsage,
		PreCPUTotalUsage: raw.PreCPUStats.CPUUsage.TotalUsage,
		SystemUsage:      raw.CPUStats.SystemUsage,
		PreSystemUsage:   raw.PreCPUStats.SystemUsage,
		OnlineCPUs:       raw.CPUStats.OnlineCPUs,
		PerCPUCount:      len(raw.CPUStats.CPUUsage.PercpuUsage),
		MemoryUsage:      raw.MemoryStats.Usage,
		MemoryLimit:      raw.MemoryStats.Limit,
	}
	if raw.ID != "" {
		snap.ContainerID = raw.ID
	}

	if len(raw.Networks) > 0 {
		snap.NetworkRx = make(map[string]uint64, len(raw.Networks))
		snap.NetworkTx = make(map[string]uint64, len(raw.Networks))
		for iface, n := range raw.Networks {
			snap.NetworkRx[iface] = n.RxBytes
			snap.NetworkTx[iface] = n.TxBytes
		}
	}
	for _, e := range raw.BlkioStats.IoServiceBytesRecursive {
		snap.BlockIO = append(snap.BlockIO, domain.BlockIOEntry{Op: e.Op, Value: e.Value})
	}
	return snap
}
