// Package telemetry records engine measurements as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/alemelgarejo/docker-database-manager/internal/domain"
)

const namespace = "ddm"

// Metrics implements the MetricsRecorder interface.
type Metrics struct {
	registry *prometheus.Registry

	// Migrations
	MigrationsTotal   *prometheus.CounterVec
	MigrationDuration prometheus.Histogram

	// Images
	ImagePullsTotal *prometheus.CounterVec

	// Containers
	ContainerCPU    *prometheus.GaugeVec
	ContainerMemory *prometheus.GaugeVec
}

// NewMetrics creates every instrument on a dedicated registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		MigrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total database migrations by result",
		}, []string{"result"}),
		MigrationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "migration_duration_seconds",
			Help:      "Migration duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		ImagePullsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_pulls_total",
			Help:      "Total image pulls by result",
		}, []string{"result"}),
		ContainerCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_cpu_percent",
			Help:      "CPU usage of a container at its last sample",
		}, []string{"container"}),
		ContainerMemory: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "container_memory_percent",
			Help:      "Memory usage of a container relative to its limit at its last sample",
		}, []string{"container"}),
	}

	m.registry.MustRegister(
		m.MigrationsTotal,
		m.MigrationDuration,
		m.ImagePullsTotal,
		m.ContainerCPU,
		m.ContainerMemory,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MigrationFinished counts a migration and observes its duration.
func (m *Metrics) MigrationFinished(success bool, took time.Duration) {
	m.MigrationsTotal.WithLabelValues(result(success)).Inc()
	m.MigrationDuration.Observe(took.Seconds())
}

// ImagePulled counts an image pull.
func (m *Metrics) ImagePulled(success bool) {
	m.ImagePullsTotal.WithLabelValues(result(success)).Inc()
}

// ContainerSampled records the latest usage of a container.
func (m *Metrics) ContainerSampled(stats domain.ContainerStats) {
	name := stats.Name
	if name == "" {
		name = stats.ContainerID
	}
	m.ContainerCPU.WithLabelValues(name).Set(stats.CPUPercent)
	m.ContainerMemory.WithLabelValues(name).Set(stats.MemoryPercent)
}

// ForgetContainer drops the gauges of a container that no longer exists.
func (m *Metrics) ForgetContainer(name string) {
	m.ContainerCPU.DeleteLabelValues(name)
	m.ContainerMemory.DeleteLabelValues(name)
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
