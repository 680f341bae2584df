package host

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"hostpulse-agent/internal/model"
)

const (
	pciVendorAMD   = "0x1002"
	pciVendorIntel = "0x8086"
)

// amdDeviceNames resolves common PCI device IDs when rocm-smi is not installed.
var amdDeviceNames = map[string]string{
	"0x67df": "AMD Radeon RX 470/480/570/580",
	"0x687f": "AMD Radeon RX Vega 56/64",
	"0x66af": "AMD Radeon VII",
	"0x731f": "AMD Radeon RX 5600/5700",
	"0x73bf": "AMD Radeon RX 6800/6900",
	"0x73df": "AMD Radeon RX 6700",
	"0x73ff": "AMD Radeon RX 6600",
	"0x744c": "AMD Radeon RX 7900",
	"0x7480": "AMD Radeon RX 7600",
	"0x1636": "AMD Radeon Graphics (Renoir)",
	"0x1638": "AMD Radeon Graphics (Cezanne)",
	"0x164e": "AMD Radeon Graphics (Raphael)",
	"0x15bf": "AMD Radeon 780M",
	"0x740f": "AMD Instinct MI210",
}

func amdModelName(deviceID string) string {
	if name, ok := amdDeviceNames[deviceID]; ok {
		return name
	}
	return fmt.Sprintf("AMD GPU (Device ID: %s)", firstNonEmpty(deviceID, unknownValue))
}

// runRocmJSON returns the per-card objects of rocm-smi --json output in card order.
func (c *GPUCollector) runRocmJSON(ctx context.Context, args ...string) ([]map[string]any, error) {
	out, err := c.runner.Run(ctx, "rocm-smi", append(args, "--json")...)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		return nil, fmt.Errorf("rocm-smi output: %w: %v", ErrSourceMalformed, err)
	}
	keys := make([]string, 0, len(decoded))
	for key := range decoded {
		lk := strings.ToLower(strings.TrimSpace(key))
		if strings.HasPrefix(lk, "card") || strings.HasPrefix(lk, "gpu") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	cards := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		if obj, ok := decoded[key].(map[string]any); ok {
			cards = append(cards, obj)
		}
	}
	return cards, nil
}

// rocmMemoryMB reads a VRAM figure. Keys suffixed "(B)" are in bytes, others in MiB.
func rocmMemoryMB(card map[string]any, needles ...string) uint64 {
	v, key, ok := findMapFloatByContains(card, needles...)
	if !ok || v <= 0 {
		return 0
	}
	if strings.Contains(strings.ToLower(key), "(b)") {
		return bytesToMB(uint64(v))
	}
	return uint64(v)
}

func rocmModel(card map[string]any) string {
	return firstNonEmpty(findMapStringByContains(card, "card series", "marketing name", "card sku"), "AMD GPU")
}

func (c *GPUCollector) rocmDevices(ctx context.Context) ProbeResult[model.GpuDevice] {
	cards, err := c.runRocmJSON(ctx, "--showproductname", "--showmeminfo", "vram")
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	out := make([]model.GpuDevice, 0, len(cards))
	for _, card := range cards {
		out = append(out, model.GpuDevice{
			Model:    rocmModel(card),
			Vendor:   model.GpuVendorAmd,
			MemoryMB: rocmMemoryMB(card, "vram total memory", "vram total"),
		})
	}
	return probeOK(out)
}

func (c *GPUCollector) rocmUtilization(ctx context.Context) ProbeResult[model.GpuUtilization] {
	cards, err := c.runRocmJSON(ctx, "--showproductname", "--showuse", "--showmeminfo", "vram")
	if err != nil {
		return probeUnavailable[model.GpuUtilization](err)
	}
	out := make([]model.GpuUtilization, 0, len(cards))
	for _, card := range cards {
		total := rocmMemoryMB(card, "vram total memory", "vram total")
		used := rocmMemoryMB(card, "vram total used memory", "vram used")
		usage, _, _ := findMapFloatByContains(card, "gpu use", "gpu busy")
		out = append(out, model.GpuUtilization{
			Model:            rocmModel(card),
			Vendor:           model.GpuVendorAmd,
			MemoryUsedMB:     used,
			MemoryFreeMB:     total - min(used, total),
			CoreUsagePercent: usage,
		})
	}
	return probeOK(out)
}

func (c *GPUCollector) amdSysfsDevices(context.Context) ProbeResult[model.GpuDevice] {
	cards, err := c.drmCards(pciVendorAMD)
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	out := make([]model.GpuDevice, 0, len(cards))
	for _, card := range cards {
		out = append(out, model.GpuDevice{
			Model:    amdModelName(card.deviceID),
			Vendor:   model.GpuVendorAmd,
			MemoryMB: bytesToMB(parseUintFlexible(readTrimmed(filepath.Join(card.devicePath, "mem_info_vram_total")))),
		})
	}
	return probeOK(out)
}

// amdSysfsUtilization reads gpu_busy_percent from the device directory or
// its hwmon children, and VRAM counters from mem_info_vram_*.
func (c *GPUCollector) amdSysfsUtilization(context.Context) ProbeResult[model.GpuUtilization] {
	cards, err := c.drmCards(pciVendorAMD)
	if err != nil {
		return probeUnavailable[model.GpuUtilization](err)
	}
	out := make([]model.GpuUtilization, 0, len(cards))
	for _, card := range cards {
		total := bytesToMB(parseUintFlexible(readTrimmed(filepath.Join(card.devicePath, "mem_info_vram_total"))))
		used := bytesToMB(parseUintFlexible(readTrimmed(filepath.Join(card.devicePath, "mem_info_vram_used"))))
		out = append(out, model.GpuUtilization{
			Model:            amdModelName(card.deviceID),
			Vendor:           model.GpuVendorAmd,
			MemoryUsedMB:     used,
			MemoryFreeMB:     total - min(used, total),
			CoreUsagePercent: amdBusyPercent(card.devicePath),
		})
	}
	return probeOK(out)
}

func amdBusyPercent(devicePath string) float64 {
	if raw := readTrimmed(filepath.Join(devicePath, "gpu_busy_percent")); raw != "" {
		return parseFloatFlexible(raw)
	}
	paths, _ := filepath.Glob(filepath.Join(devicePath, "hwmon/hwmon*/gpu_busy_percent"))
	sort.Strings(paths)
	for _, path := range paths {
		if raw := readTrimmed(path); raw != "" {
			return parseFloatFlexible(raw)
		}
	}
	return 0
}
