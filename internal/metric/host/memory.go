package host

import (
	"context"
	"log/slog"
	"path/filepath"

	"hostpulse-agent/internal/model"
	"hostpulse-agent/internal/system"
)

// HypervisorMemorySource reports node memory from a local hypervisor daemon.
// It is consulted only when /proc/meminfo cannot be used.
type HypervisorMemorySource interface {
	NodeMemory(ctx context.Context) (model.MemoryUsage, error)
}

type RAMCollector struct {
	procRoot string
	logger   *slog.Logger
	fallback HypervisorMemorySource
}

func NewRAMCollector(opts Options, logger *slog.Logger) *RAMCollector {
	opts = opts.withDefaults()
	return &RAMCollector{procRoot: opts.ProcRoot, logger: logger, fallback: opts.HypervisorMemory}
}

// ReadMemoryUsage never fails. An absent or malformed meminfo table yields the
// hypervisor reading when one is configured, otherwise a zero value.
func (c *RAMCollector) ReadMemoryUsage(ctx context.Context) model.MemoryUsage {
	usage, err := c.readMemInfo()
	if err == nil {
		return usage
	}
	c.logger.Warn("memory info table unavailable", "error", err)

	if c.fallback == nil {
		return model.MemoryUsage{}
	}
	usage, fbErr := c.fallback.NodeMemory(ctx)
	if fbErr != nil {
		c.logger.Warn("hypervisor memory fallback failed", "error", fbErr)
		return model.MemoryUsage{}
	}
	return normalizeMemory(usage)
}

func (c *RAMCollector) readMemInfo() (model.MemoryUsage, error) {
	path := filepath.Join(c.procRoot, "meminfo")
	raw, err := readSource(path)
	if err != nil {
		return model.MemoryUsage{}, err
	}
	info, err := system.ParseMemInfo(raw)
	if err != nil {
		return model.MemoryUsage{}, sourceError(ErrSourceMalformed, path, err)
	}
	used, free := info.Usage()
	return model.MemoryUsage{TotalBytes: info.TotalBytes, UsedBytes: used, FreeBytes: free}, nil
}

// normalizeMemory enforces used + free == total on readings from other sources.
func normalizeMemory(m model.MemoryUsage) model.MemoryUsage {
	if m.UsedBytes > m.TotalBytes {
		m.UsedBytes = m.TotalBytes
	}
	m.FreeBytes = m.TotalBytes - m.UsedBytes
	return m
}
