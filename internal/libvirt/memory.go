package libvirt

import (
	"context"
	"fmt"
	"strings"

	golibvirt "github.com/digitalocean/go-libvirt"

	"hostpulse-agent/internal/model"
)

// allCells asks NodeGetMemoryStats for the whole node rather than one NUMA cell.
const allCells int32 = -1

// NodeMemorySource reads host memory through libvirtd. It backs the RAM
// collector on hosts where /proc/meminfo is not visible to the agent.
type NodeMemorySource struct {
	conn *ConnManager
}

func NewNodeMemorySource(conn *ConnManager) *NodeMemorySource {
	return &NodeMemorySource{conn: conn}
}

func (s *NodeMemorySource) NodeMemory(ctx context.Context) (model.MemoryUsage, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return model.MemoryUsage{}, err
	}
	stats, _, err := client.NodeGetMemoryStats(0, allCells, 0)
	if err != nil {
		return model.MemoryUsage{}, fmt.Errorf("NodeGetMemoryStats: %w", err)
	}
	return memoryUsageFromStats(stats)
}

// memoryUsageFromStats converts the KiB fields reported by libvirt. Free
// includes buffers and cached, matching the meminfo fallback rule.
func memoryUsageFromStats(stats []golibvirt.NodeGetMemoryStats) (model.MemoryUsage, error) {
	if len(stats) == 0 {
		return model.MemoryUsage{}, fmt.Errorf("empty node memory stats")
	}
	vals := make(map[string]uint64, len(stats))
	for _, st := range stats {
		vals[strings.ToLower(st.Field)] = st.Value
	}
	total := vals["total"] * 1024
	if total == 0 {
		return model.MemoryUsage{}, fmt.Errorf("total memory is zero")
	}
	free := (vals["free"] + vals["buffers"] + vals["cached"]) * 1024
	if free > total {
		free = total
	}
	return model.MemoryUsage{TotalBytes: total, UsedBytes: total - free, FreeBytes: free}, nil
}
