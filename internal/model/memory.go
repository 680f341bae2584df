package model

// MemoryUsage holds host memory totals in bytes. UsedBytes + FreeBytes == TotalBytes.
type MemoryUsage struct {
	TotalBytes uint64 `json:"total_bytes"`
	UsedBytes  uint64 `json:"used_bytes"`
	FreeBytes  uint64 `json:"free_bytes"`
}
