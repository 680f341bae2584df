package host

import (
	"context"
	"regexp"
	"strings"

	"hostpulse-agent/internal/model"
)

var (
	pciIDPattern  = regexp.MustCompile(`\[([0-9a-fA-F]{4}):([0-9a-fA-F]{4})\]`)
	pciRevPattern = regexp.MustCompile(`\s*\(rev [0-9a-fA-F]+\)\s*$`)
)

// pciVendorName maps a PCI vendor ID to a GPU vendor.
func pciVendorName(vendorID string) model.GpuVendor {
	switch strings.ToLower(strings.TrimPrefix(vendorID, "0x")) {
	case "10de":
		return model.GpuVendorNvidia
	case "1002":
		return model.GpuVendorAmd
	case "8086":
		return model.GpuVendorIntel
	default:
		return model.GpuVendorUnknown
	}
}

// classifyGPUVendor falls back to substring matching when the listing has no IDs.
func classifyGPUVendor(desc string) model.GpuVendor {
	lower := strings.ToLower(desc)
	switch {
	case strings.Contains(lower, "nvidia"), strings.Contains(lower, "geforce"):
		return model.GpuVendorNvidia
	case strings.Contains(lower, "advanced micro devices"),
		strings.Contains(lower, "amd"),
		strings.Contains(lower, "radeon"),
		strings.Contains(lower, "ati technologies"):
		return model.GpuVendorAmd
	case strings.Contains(lower, "intel"):
		return model.GpuVendorIntel
	default:
		return model.GpuVendorUnknown
	}
}

func (c *GPUCollector) pciDevices(ctx context.Context) ProbeResult[model.GpuDevice] {
	out, err := c.runner.Run(ctx, "lspci", "-nn")
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	return probeOK(parseLspciGPUs(string(out)))
}

// parseLspciGPUs returns the display controllers of an lspci -nn listing.
func parseLspciGPUs(raw string) []model.GpuDevice {
	out := make([]model.GpuDevice, 0, 2)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "vga compatible controller") &&
			!strings.Contains(lower, "3d controller") &&
			!strings.Contains(lower, "display controller") {
			continue
		}
		desc := line
		if idx := strings.Index(desc, ": "); idx >= 0 {
			desc = strings.TrimSpace(desc[idx+2:])
		}

		vendor := model.GpuVendorUnknown
		if m := pciIDPattern.FindAllStringSubmatch(desc, -1); len(m) > 0 {
			vendor = pciVendorName(m[len(m)-1][1])
		}
		if vendor == model.GpuVendorUnknown {
			vendor = classifyGPUVendor(desc)
		}

		name := pciRevPattern.ReplaceAllString(desc, "")
		if loc := pciIDPattern.FindAllStringIndex(name, -1); len(loc) > 0 {
			last := loc[len(loc)-1]
			name = name[:last[0]] + name[last[1]:]
		}
		out = append(out, model.GpuDevice{
			Model:  strings.TrimSpace(name),
			Vendor: vendor,
		})
	}
	return out
}
