// Package domain contains pure business types without external dependencies.
// These types are used throughout the application and have no framework dependencies.
package domain

import (
	"strconv"
	"strings"
	"time"
)

// Container is the runtime-observed view of a container. It is derived by
// re-querying the runtime and never cached beyond a single call. Ports holds
// the host ports the container binds; for a stopped container these are the
// configured bindings.
type Container struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Image     string            `json:"image"`
	State     string            `json:"status"`
	Status    string            `json:"status_text"`
	Ports     []int             `json:"ports"`
	CreatedAt time.Time         `json:"created"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// DatabaseName returns the logical database name recorded in the labels.
func (c *Container) DatabaseName() string { return c.Labels[LabelDatabaseName] }

// DatabaseType returns the database type recorded in the labels.
func (c *Container) DatabaseType() DatabaseType {
	return DatabaseType(c.Labels[LabelDatabaseType])
}

// IsManaged reports whether the container was created by this application.
func (c *Container) IsManaged() bool { return c.Labels[LabelApp] == AppLabelValue }

// IsRunning reports whether the container is running.
func (c *Container) IsRunning() bool { return c.State == string(ContainerStatusRunning) }

// FirstPort returns the first published host port, or 0.
func (c *Container) FirstPort() int {
	if len(c.Ports) == 0 {
		return 0
	}
	return c.Ports[0]
}

// ContainerStatus represents the current state of a container.
type ContainerStatus string

const (
	ContainerStatusRunning ContainerStatus = "running"
	ContainerStatusCreated ContainerStatus = "created"
	ContainerStatusExited  ContainerStatus = "exited"
	ContainerStatusPaused  ContainerStatus = "paused"
)

// Mount describes one mount point of an inspected container.
type Mount struct {
	Type        string `json:"type"` // "volume" or "bind"
	Name        string `json:"name,omitempty"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
}

// ContainerDetails is the full inspection result of a container.
type ContainerDetails struct {
	Container
	Env           []string      `json:"env,omitempty"`
	Cmd           []string      `json:"cmd,omitempty"`
	PortMappings  []PortMapping `json:"port_mappings,omitempty"`
	Mounts        []Mount       `json:"mounts,omitempty"`
	Networks      []string      `json:"networks,omitempty"`
	RestartPolicy string        `json:"restart_policy,omitempty"`
	NetworkMode   string        `json:"network_mode,omitempty"`
	MemoryBytes   int64         `json:"memory_bytes,omitempty"`
	NanoCPUs      int64         `json:"nano_cpus,omitempty"`
}

// PortMapping exposes one container port and, when HostPort is set,
// publishes it on the host. An empty HostIP means every interface and an
// empty Protocol means tcp.
type PortMapping struct {
	ContainerPort int    `json:"container_port"`
	HostPort      int    `json:"host_port,omitempty"`
	HostIP        string `json:"host_ip,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
}

// TCPPort publishes containerPort on hostPort over tcp on every interface.
func TCPPort(containerPort, hostPort int) PortMapping {
	return PortMapping{ContainerPort: containerPort, HostPort: hostPort}
}

// Proto returns the protocol, defaulting to tcp.
func (p PortMapping) Proto() string {
	if p.Protocol == "" {
		return "tcp"
	}
	return p.Protocol
}

// String renders the mapping in compose short syntax, e.g.
// "127.0.0.1:8080:80" or "5353:53/udp".
func (p PortMapping) String() string {
	s := strconv.Itoa(p.ContainerPort)
	if p.HostPort > 0 {
		s = strconv.Itoa(p.HostPort) + ":" + s
		switch {
		case strings.Contains(p.HostIP, ":"):
			s = "[" + p.HostIP + "]:" + s
		case p.HostIP != "":
			s = p.HostIP + ":" + s
		}
	}
	if p.Proto() != "tcp" {
		s += "/" + p.Proto()
	}
	return s
}

// HostPortFor returns the host port publishing the tcp containerPort, or 0.
func HostPortFor(ports []PortMapping, containerPort int) int {
	for _, p := range ports {
		if p.ContainerPort == containerPort && p.Proto() == "tcp" && p.HostPort > 0 {
			return p.HostPort
		}
	}
	return 0
}

// ContainerSpec is the runtime-agnostic description of a container to create.
// Optional resource fields are nil when unset.
type ContainerSpec struct {
	Name          string
	Image         string
	Env           []string
	Cmd           []string
	Ports         []PortMapping
	Binds         []string // "source:destination"
	Labels        map[string]string
	MemoryBytes   *int64
	NanoCPUs      *int64
	RestartPolicy string
	NetworkMode   string
	Networks      []string
	Aliases       []string // network aliases on every network in Networks
	ExtraHosts    []string
}

// ExecResult holds the result of executing a command in a container.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// LogEntry is one line of container output.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// ImageDetail is the raw image listing entry returned by the runtime.
type ImageDetail struct {
	ID       string
	RepoTags []string
	Size     int64
	Created  time.Time
}

// ImageInfo is one repository:tag of a local image. Untagged images are
// reported once with Dangling set.
type ImageInfo struct {
	ID         string    `json:"id"`
	Repository string    `json:"repository"`
	Tag        string    `json:"tag"`
	Size       int64     `json:"size"`
	Created    time.Time `json:"created"`
	Dangling   bool      `json:"dangling"`
}

// VolumeInfo describes a named volume.
type VolumeInfo struct {
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Mountpoint string            `json:"mountpoint"`
	CreatedAt  string            `json:"created_at"`
	Labels     map[string]string `json:"labels,omitempty"`
	SizeBytes  int64             `json:"size_bytes"`
	InUse      bool              `json:"in_use"`
}

// NetworkInfo represents network configuration and state.
type NetworkInfo struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Driver     string            `json:"driver"`
	Containers []string          `json:"containers,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
}

// PruneReport summarizes a volume prune.
type PruneReport struct {
	Deleted        []string `json:"deleted"`
	SpaceReclaimed uint64   `json:"space_reclaimed"`
}

// PullProgress is one progress message emitted while pulling an image.
type PullProgress struct {
	ID       string
	Status   string
	Progress string
}
