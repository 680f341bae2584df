package model

import "time"

// SystemSnapshot is one point-in-time view of the host. It has no identity
// beyond the collection time and is rebuilt on every call.
type SystemSnapshot struct {
	CollectedAt time.Time          `json:"collected_at"`
	CPU         CPUSnapshot        `json:"cpu"`
	GPUs        []GpuDevice        `json:"gpus"`
	GPUUsage    []GpuUtilization   `json:"gpu_usage"`
	Memory      MemoryUsage        `json:"memory"`
	Processes   []ProcessInfo      `json:"processes"`
	Network     []NetworkInterface `json:"network"`
}
