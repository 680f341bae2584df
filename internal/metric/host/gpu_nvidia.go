package host

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"hostpulse-agent/internal/model"
)

func (c *GPUCollector) runNvidiaQueryCSV(ctx context.Context, fields []string) ([][]string, error) {
	out, err := c.runner.Run(ctx, "nvidia-smi",
		"--query-gpu="+strings.Join(fields, ","),
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(strings.NewReader(string(out)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi output: %w: %v", ErrSourceMalformed, err)
	}
	return rows, nil
}

func (c *GPUCollector) nvidiaSMIDevices(ctx context.Context) ProbeResult[model.GpuDevice] {
	fields := []string{"name", "memory.total", "driver_version"}
	rows, err := c.runNvidiaQueryCSV(ctx, fields)
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	out := make([]model.GpuDevice, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(fields) {
			continue
		}
		out = append(out, model.GpuDevice{
			Model:    firstNonEmpty(normalizeField(row[0]), "NVIDIA GPU"),
			Vendor:   model.GpuVendorNvidia,
			MemoryMB: parseUintFlexible(normalizeField(row[1])),
		})
	}
	return probeOK(out)
}

func (c *GPUCollector) nvidiaSMIUtilization(ctx context.Context) ProbeResult[model.GpuUtilization] {
	fields := []string{"name", "memory.used", "memory.free", "memory.total", "utilization.gpu"}
	rows, err := c.runNvidiaQueryCSV(ctx, fields)
	if err != nil {
		return probeUnavailable[model.GpuUtilization](err)
	}
	out := make([]model.GpuUtilization, 0, len(rows))
	for _, row := range rows {
		if len(row) < len(fields) {
			continue
		}
		used := parseUintFlexible(normalizeField(row[1]))
		free := parseUintFlexible(normalizeField(row[2]))
		total := parseUintFlexible(normalizeField(row[3]))
		if free == 0 && total > used {
			free = total - used
		}
		out = append(out, model.GpuUtilization{
			Model:            firstNonEmpty(normalizeField(row[0]), "NVIDIA GPU"),
			Vendor:           model.GpuVendorNvidia,
			MemoryUsedMB:     used,
			MemoryFreeMB:     free,
			CoreUsagePercent: parseFloatFlexible(normalizeField(row[4])),
		})
	}
	return probeOK(out)
}

// nvidiaProcModels reads the "Model:" line of every
// /proc/driver/nvidia/gpus/<pci-slot>/information file.
func (c *GPUCollector) nvidiaProcModels() ([]string, error) {
	pattern := filepath.Join(c.procRoot, "driver/nvidia/gpus/*/information")
	paths, err := filepath.Glob(pattern)
	if err != nil || len(paths) == 0 {
		return nil, sourceError(ErrSourceAbsent, pattern, err)
	}
	sort.Strings(paths)
	models := make([]string, 0, len(paths))
	for _, path := range paths {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			c.logger.Debug("skipping nvidia information file", "path", path, "error", readErr)
			continue
		}
		name := ""
		for _, line := range strings.Split(string(raw), "\n") {
			key, value, ok := strings.Cut(line, ":")
			if ok && strings.TrimSpace(key) == "Model" {
				name = strings.TrimSpace(value)
				break
			}
		}
		models = append(models, firstNonEmpty(name, "NVIDIA GPU"))
	}
	return models, nil
}

func (c *GPUCollector) nvidiaProcDevices(context.Context) ProbeResult[model.GpuDevice] {
	models, err := c.nvidiaProcModels()
	if err != nil {
		return probeUnavailable[model.GpuDevice](err)
	}
	out := make([]model.GpuDevice, 0, len(models))
	for _, name := range models {
		out = append(out, model.GpuDevice{Model: name, Vendor: model.GpuVendorNvidia})
	}
	return probeOK(out)
}

// nvidiaProcUtilization reports detected devices with zero load; the proc
// interface carries no dynamic counters.
func (c *GPUCollector) nvidiaProcUtilization(context.Context) ProbeResult[model.GpuUtilization] {
	models, err := c.nvidiaProcModels()
	if err != nil {
		return probeUnavailable[model.GpuUtilization](err)
	}
	out := make([]model.GpuUtilization, 0, len(models))
	for _, name := range models {
		out = append(out, model.GpuUtilization{Model: name, Vendor: model.GpuVendorNvidia})
	}
	return probeOK(out)
}
