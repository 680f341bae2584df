package model

// CPUIdentity is the static description of the host processor.
type CPUIdentity struct {
	Architecture   string `json:"architecture"`
	ModelName      string `json:"model_name"`
	VendorID       string `json:"vendor_id"`
	PhysicalCores  int    `json:"physical_cores"`
	LogicalThreads int    `json:"logical_threads"`
	HyperThreading bool   `json:"hyper_threading"`
}

type CPUUtilization struct {
	MaxFrequencyMHz     float64   `json:"max_frequency_mhz"`
	CurrentFrequencyMHz float64   `json:"current_frequency_mhz"`
	UsagePercent        float64   `json:"usage_percent"`
	PerCoreUsagePercent []float64 `json:"per_core_usage_percent"`
}

type CPUSnapshot struct {
	Identity    CPUIdentity    `json:"identity"`
	Utilization CPUUtilization `json:"utilization"`
}
