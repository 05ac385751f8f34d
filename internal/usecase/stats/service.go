// Package stats derives container resource usage from raw runtime counters.
package stats

import (
	"context"
	"math"
	"strings"

	"github.com/bnema/zerowrap"

	"github.com/alemelgarejo/docker-database-manager/internal/boundaries/out"
	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// Service implements the StatsService interface.
type Service struct {
	runtime out.ContainerRuntime
	metrics out.MetricsRecorder
}

// NewService creates a new stats service.
func NewService(runtime out.ContainerRuntime, metrics out.MetricsRecorder) *Service {
	return &Service{runtime: runtime, metrics: out.MetricsOrNop(metrics)}
}

// Collect takes one stats snapshot of a container.
func (s *Service) Collect(ctx context.Context, containerID string) (*domain.ContainerStats, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:    "usecase",
		zerowrap.FieldUseCase:  "CollectStats",
		zerowrap.FieldEntityID: containerID,
	})
	log := zerowrap.FromCtx(ctx)

	snap, err := s.runtime.ContainerStats(ctx, containerID)
	if err != nil {
		return nil, log.WrapErr(err, "failed to read container stats")
	}

	st := Derive(snap)
	if st.ContainerID == "" {
		st.ContainerID = containerID
	}
	s.metrics.ContainerSampled(st)
	return &st, nil
}

// CollectAll samples every running managed container in turn. A container
// whose sample fails is skipped.
func (s *Service) CollectAll(ctx context.Context) ([]domain.ContainerStats, error) {
	ctx = zerowrap.CtxWithFields(ctx, map[string]any{
		zerowrap.FieldLayer:   "usecase",
		zerowrap.FieldUseCase: "CollectAllStats",
	})
	log := zerowrap.FromCtx(ctx)

	containers, err := s.runtime.ListContainers(ctx, false, map[string]string{domain.LabelApp: domain.AppLabelValue})
	if err != nil {
		return nil, log.WrapErr(err, "failed to list containers")
	}

	result := make([]domain.ContainerStats, 0, len(containers))
	var skipped []string
	for _, c := range containers {
		if !c.IsRunning() {
			continue
		}
		st, err := s.Collect(ctx, c.ID)
		if err != nil {
			skipped = append(skipped, c.Name)
			continue
		}
		if st.Name == "" {
			st.Name = c.Name
		}
		result = append(result, *st)
	}

	if len(skipped) > 0 {
		pf := &domain.PartialFailure{Op: "collect stats", Detail: "skipped " + strings.Join(skipped, ", ")}
		log.Warn().Err(pf).Msg("some containers were not sampled")
	}
	return result, nil
}

// Derive computes percentages and summed I/O counters from a snapshot.
func Derive(snap *domain.StatsSnapshot) domain.ContainerStats {
	st := domain.ContainerStats{
		ContainerID: snap.ContainerID,
		Name:        strings.TrimPrefix(snap.Name, "/"),
		MemoryUsage: snap.MemoryUsage,
		MemoryLimit: snap.MemoryLimit,
	}

	st.CPUPercent = round2(cpuPercent(snap))
	if snap.MemoryLimit > 0 {
		st.MemoryPercent = round2(float64(snap.MemoryUsage) / float64(snap.MemoryLimit) * 100)
	}

	for _, v := range snap.NetworkRx {
		st.NetworkRx += v
	}
	for _, v := range snap.NetworkTx {
		st.NetworkTx += v
	}
	for _, e := range snap.BlockIO {
		switch strings.ToLower(e.Op) {
		case "read":
			st.BlockRead += e.Value
		case "write":
			st.BlockWrite += e.Value
		}
	}
	return st
}

// cpuPercent is zero while the system delta is not positive, which happens
// on the first sample after start.
func cpuPercent(snap *domain.StatsSnapshot) float64 {
	systemDelta := float64(snap.SystemUsage) - float64(snap.PreSystemUsage)
	if systemDelta <= 0 {
		return 0
	}
	cpuDelta := float64(snap.CPUTotalUsage) - float64(snap.PreCPUTotalUsage)
	if cpuDelta < 0 {
		return 0
	}

	cpus := float64(snap.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(snap.PerCPUCount)
	}
	if cpus == 0 {
		cpus = 1
	}
	return cpuDelta / systemDelta * cpus * 100
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
