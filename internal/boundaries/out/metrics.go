package out

import (
	"time"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

// MetricsRecorder receives operational measurements. Use cases accept a nil
// recorder and fall back to NopMetrics.
type MetricsRecorder interface {
	MigrationFinished(success bool, took time.Duration)
	ImagePulled(success bool)
	ContainerSampled(stats domain.ContainerStats)
}

// NopMetrics discards every measurement.
type NopMetrics struct{}

func (NopMetrics) MigrationFinished(bool, time.Duration)  {}
func (NopMetrics) ImagePulled(bool)                       {}
func (NopMetrics) ContainerSampled(domain.ContainerStats) {}

// MetricsOrNop returns m, or NopMetrics when m is nil.
func MetricsOrNop(m MetricsRecorder) MetricsRecorder {
	if m == nil {
		return NopMetrics{}
	}
	return m
}
