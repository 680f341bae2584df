package model

type ProcessInfo struct {
	PID             int     `json:"pid"`
	Name            string  `json:"name"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
	MemoryMB        float64 `json:"memory_mb"`
}
