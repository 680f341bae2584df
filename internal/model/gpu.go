package model

type GpuVendor string

const (
	GpuVendorNvidia  GpuVendor = "NVIDIA"
	GpuVendorAmd     GpuVendor = "AMD"
	GpuVendorIntel   GpuVendor = "Intel"
	GpuVendorUnknown GpuVendor = "Unknown"
)

type GpuDevice struct {
	Model     string    `json:"model"`
	Vendor    GpuVendor `json:"vendor"`
	MemoryMB  uint64    `json:"memory_mb"`
	CoreCount int       `json:"core_count"`
}

type GpuUtilization struct {
	Model              string    `json:"model"`
	Vendor             GpuVendor `json:"vendor"`
	MemoryUsedMB       uint64    `json:"memory_used_mb"`
	MemoryFreeMB       uint64    `json:"memory_free_mb"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	CoreUsagePercent   float64   `json:"core_usage_percent"`
}

type GpuSnapshot struct {
	Devices     []GpuDevice      `json:"devices"`
	Utilization []GpuUtilization `json:"utilization"`
}

// GpuMemoryPercent returns used/(used+free) as a percentage, 0 when both are 0.
func GpuMemoryPercent(usedMB, freeMB uint64) float64 {
	total := usedMB + freeMB
	if total == 0 {
		return 0
	}
	return float64(usedMB) / float64(total) * 100
}
