package domain

// StatsSnapshot holds the raw cumulative counters of one stats call.
type StatsSnapshot struct {
	ContainerID      string
	Name             string
	CPUTotalUsage    uint64
	PreCPUTotalUsage uint64
	SystemUsage      uint64
	PreSystemUsage   uint64
	OnlineCPUs       uint32
	PerCPUCount      int
	MemoryUsage      uint64
	MemoryLimit      uint64
	NetworkRx        map[string]uint64
	NetworkTx        map[string]uint64
	BlockIO          []BlockIOEntry
}

// BlockIOEntry is one block device counter.
type BlockIOEntry struct {
	Op    string
	Value uint64
}

// ContainerStats is the derived, human-facing resource usage of a container.
type ContainerStats struct {
	ContainerID   string  `json:"container_id"`
	Name          string  `json:"name"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsage   uint64  `json:"memory_usage"`
	MemoryLimit   uint64  `json:"memory_limit"`
	MemoryPercent float64 `json:"memory_percent"`
	NetworkRx     uint64  `json:"network_rx"`
	NetworkTx     uint64  `json:"network_tx"`
	BlockRead     uint64  `json:"block_read"`
	BlockWrite    uint64  `json:"block_write"`
}
