package host

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"hostpulse-agent/internal/model"
)

type ProbeStatus int

const (
	ProbeOK ProbeStatus = iota
	ProbeUnavailable
)

// ProbeResult is the outcome of one detection strategy. Reason is set when
// Status is ProbeUnavailable.
type ProbeResult[T any] struct {
	Status ProbeStatus
	Items  []T
	Reason error
}

func probeOK[T any](items []T) ProbeResult[T] {
	if len(items) == 0 {
		return probeUnavailable[T](ErrSourceAbsent)
	}
	return ProbeResult[T]{Status: ProbeOK, Items: items}
}

func probeUnavailable[T any](reason error) ProbeResult[T] {
	return ProbeResult[T]{Status: ProbeUnavailable, Reason: reason}
}

type gpuProbe[T any] struct {
	name string
	run  func(ctx context.Context) ProbeResult[T]
}

// vendorChain is the ordered list of strategies for one vendor. The first
// strategy that finds devices ends the chain.
type vendorChain[T any] struct {
	vendor model.GpuVendor
	probes []gpuProbe[T]
}

func runChain[T any](ctx context.Context, logger *slog.Logger, chain vendorChain[T]) []T {
	for _, probe := range chain.probes {
		if ctx.Err() != nil {
			return nil
		}
		res := probe.run(ctx)
		if res.Status == ProbeOK {
			return res.Items
		}
		logger.Debug("gpu probe unavailable", "vendor", chain.vendor, "probe", probe.name, "reason", res.Reason)
	}
	return nil
}

// GPUCollector merges vendor probes. Vendor-specific chains always run first;
// the generic PCI listing only adds vendors none of them found, one device each.
type GPUCollector struct {
	procRoot string
	sysRoot  string
	runner   CommandRunner
	logger   *slog.Logger
	group    singleflight.Group
}

func NewGPUCollector(opts Options, logger *slog.Logger) *GPUCollector {
	opts = opts.withDefaults()
	return &GPUCollector{
		procRoot: opts.ProcRoot,
		sysRoot:  opts.SysRoot,
		runner:   opts.Runner,
		logger:   logger,
	}
}

// ListDevices returns the static GPU inventory. Overlapping callers share one probe run.
func (c *GPUCollector) ListDevices(ctx context.Context) []model.GpuDevice {
	devices := shared(ctx, &c.group, "devices", func() []model.GpuDevice {
		return c.enumerateDevices(ctx)
	})
	return slices.Clone(devices)
}

// ListUtilization returns dynamic load for every GPU a vendor chain can measure.
func (c *GPUCollector) ListUtilization(ctx context.Context) []model.GpuUtilization {
	usage := shared(ctx, &c.group, "utilization", func() []model.GpuUtilization {
		return c.enumerateUtilization(ctx)
	})
	return slices.Clone(usage)
}

func (c *GPUCollector) ReadSnapshot(ctx context.Context) model.GpuSnapshot {
	return model.GpuSnapshot{
		Devices:     c.ListDevices(ctx),
		Utilization: c.ListUtilization(ctx),
	}
}

func shared[T any](ctx context.Context, group *singleflight.Group, key string, fn func() []T) []T {
	ch := group.DoChan(key, func() (any, error) {
		return fn(), nil
	})
	select {
	case <-ctx.Done():
		return []T{}
	case res := <-ch:
		items, _ := res.Val.([]T)
		if items == nil {
			return []T{}
		}
		return items
	}
}

func (c *GPUCollector) enumerateDevices(ctx context.Context) []model.GpuDevice {
	chains := []vendorChain[model.GpuDevice]{
		{vendor: model.GpuVendorNvidia, probes: []gpuProbe[model.GpuDevice]{
			{name: "nvidia-smi", run: c.nvidiaSMIDevices},
			{name: "proc-driver-nvidia", run: c.nvidiaProcDevices},
		}},
		{vendor: model.GpuVendorAmd, probes: []gpuProbe[model.GpuDevice]{
			{name: "rocm-smi", run: c.rocmDevices},
			{name: "sysfs-drm", run: c.amdSysfsDevices},
		}},
		{vendor: model.GpuVendorIntel, probes: []gpuProbe[model.GpuDevice]{
			{name: "sysfs-drm", run: c.intelSysfsDevices},
		}},
	}

	out := make([]model.GpuDevice, 0, 4)
	for _, chain := range chains {
		out = append(out, runChain(ctx, c.logger, chain)...)
	}

	present := make(map[model.GpuVendor]bool, len(out))
	for _, d := range out {
		present[d.Vendor] = true
	}
	res := c.pciDevices(ctx)
	if res.Status != ProbeOK {
		c.logger.Debug("gpu probe unavailable", "probe", "lspci", "reason", res.Reason)
		return out
	}
	for _, d := range res.Items {
		if present[d.Vendor] {
			continue
		}
		present[d.Vendor] = true
		out = append(out, d)
	}
	return out
}

func (c *GPUCollector) enumerateUtilization(ctx context.Context) []model.GpuUtilization {
	chains := []vendorChain[model.GpuUtilization]{
		{vendor: model.GpuVendorNvidia, probes: []gpuProbe[model.GpuUtilization]{
			{name: "nvidia-smi", run: c.nvidiaSMIUtilization},
			{name: "proc-driver-nvidia", run: c.nvidiaProcUtilization},
		}},
		{vendor: model.GpuVendorAmd, probes: []gpuProbe[model.GpuUtilization]{
			{name: "rocm-smi", run: c.rocmUtilization},
			{name: "sysfs-busy", run: c.amdSysfsUtilization},
		}},
		{vendor: model.GpuVendorIntel, probes: []gpuProbe[model.GpuUtilization]{
			{name: "intel_gpu_top", run: c.intelUtilization},
		}},
	}
	out := make([]model.GpuUtilization, 0, 4)
	for _, chain := range chains {
		out = append(out, runChain(ctx, c.logger, chain)...)
	}
	for i := range out {
		out[i].CoreUsagePercent = clampPercent(out[i].CoreUsagePercent)
		out[i].MemoryUsagePercent = model.GpuMemoryPercent(out[i].MemoryUsedMB, out[i].MemoryFreeMB)
	}
	return out
}

// drmCard is one /sys/class/drm/cardN entry with its PCI identity.
type drmCard struct {
	name       string
	devicePath string
	vendorID   string
	deviceID   string
}

func (c *GPUCollector) drmCards(vendorID string) ([]drmCard, error) {
	base := filepath.Join(c.sysRoot, "class/drm")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, sourceError(ErrSourceAbsent, base, err)
	}
	var cards []drmCard
	for _, entry := range entries {
		name := entry.Name()
		if !isCardDevice(name) {
			continue
		}
		devicePath := filepath.Join(base, name, "device")
		vendor := strings.ToLower(readTrimmed(filepath.Join(devicePath, "vendor")))
		if vendor != vendorID {
			continue
		}
		cards = append(cards, drmCard{
			name:       name,
			devicePath: devicePath,
			vendorID:   vendor,
			deviceID:   strings.ToLower(readTrimmed(filepath.Join(devicePath, "device"))),
		})
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].name < cards[j].name })
	return cards, nil
}

// isCardDevice accepts card0, card1, ... but not connectors or render nodes.
func isCardDevice(name string) bool {
	return strings.HasPrefix(name, "card") && isAllDigits(name[4:])
}

func bytesToMB(v uint64) uint64 {
	return v / (1024 * 1024)
}
