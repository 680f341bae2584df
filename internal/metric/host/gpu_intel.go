package host

import (
	"bufio"
	"context"
	"strings"
	"time"

	"hostpulse-agent/internal/model"
)

const intelModelName = "Intel Integrated Graphics"

// intelSampleWindow bounds one intel_gpu_top run. The tool samples until it is
// stopped, so output gathered before the window closes is used.
const intelSampleWindow = 1500 * time.Millisecond

func (c *GPUCollector) intelSysfsDevices(context.Context) ProbeResult[model.GpuDevice] {
	cards, err := c.drmCards(pciVendorIntel)
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	out := make([]model.GpuDevice, 0, len(cards))
	for range cards {
		// Integrated parts share system memory; there is no dedicated size.
		out = append(out, model.GpuDevice{Model: intelModelName, Vendor: model.GpuVendorIntel})
	}
	return probeOK(out)
}

func (c *GPUCollector) intelUtilization(ctx context.Context) ProbeResult[model.GpuUtilization] {
	cards, err := c.drmCards(pciVendorIntel)
	if err != nil {
		return probeUnavailable[model.GpuUtilization](err)
	}
	if len(cards) == 0 {
		return probeUnavailable[model.GpuUtilization](ErrSourceAbsent)
	}
	usage := c.intelRenderPercent(ctx)
	out := make([]model.GpuUtilization, 0, len(cards))
	for range cards {
		out = append(out, model.GpuUtilization{
			Model:            intelModelName,
			Vendor:           model.GpuVendorIntel,
			CoreUsagePercent: usage,
		})
	}
	return probeOK(out)
}

// intelRenderPercent returns the Render/3D busy figure of intel_gpu_top, or 0.
func (c *GPUCollector) intelRenderPercent(ctx context.Context) float64 {
	runCtx, cancel := context.WithTimeout(ctx, intelSampleWindow)
	defer cancel()

	out, err := c.runner.Run(runCtx, "intel_gpu_top", "-s", "500", "-o", "-")
	if err != nil {
		outcome := CommandOutcome(err)
		windowClosed := outcome == OutcomeTimeout || (outcome == OutcomeCanceled && ctx.Err() == nil)
		if !windowClosed || len(out) == 0 {
			c.logger.Debug("intel_gpu_top unavailable", "error", err, "outcome", outcome)
			return 0
		}
	}
	usage, ok := parseIntelRenderPercent(string(out))
	if !ok {
		c.logger.Debug("intel_gpu_top output has no Render/3D figure")
		return 0
	}
	return usage
}

// parseIntelRenderPercent takes the last "Render/3D" line that carries a
// percentage, so the freshest sample wins.
func parseIntelRenderPercent(raw string) (float64, bool) {
	var (
		value float64
		found bool
	)
	s := bufio.NewScanner(strings.NewReader(raw))
	for s.Scan() {
		line := s.Text()
		if !strings.Contains(line, "Render/3D") {
			continue
		}
		for _, field := range strings.Fields(line) {
			if !strings.HasSuffix(field, "%") {
				continue
			}
			value = clampPercent(parseFloatFlexible(field))
			found = true
			break
		}
	}
	return value, found
}
