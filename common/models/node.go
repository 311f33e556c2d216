package models

// NodeInfo describes one machine known to the system, either the server
// itself or a build node reported by the backend.
type NodeInfo struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Architecture  string    `json:"arch,omitempty"`
	State         string    `json:"state,omitempty"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Load          []float64 `json:"load"`
	CPUCores      int       `json:"cpu_cores"`
	RAMUsed       uint64    `json:"ram_used"`
	RAMTotal      uint64    `json:"ram_total"`
	DiskUsed      uint64    `json:"disk_used"`
	DiskTotal     uint64    `json:"disk_total"`
}
