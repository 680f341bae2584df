package host

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hostpulse-agent/internal/model"
)

const unknownValue = "Unknown"

// cpuInfoTable is the subset of /proc/cpuinfo the collector needs.
type cpuInfoTable struct {
	modelName    string
	vendorID     string
	family       string
	flags        []string
	maxProcessor int
	corePairs    map[[2]string]struct{}
	mhz          []float64
}

// parseCPUInfo walks the per-processor blocks. The first model name and
// vendor id win; physical id and core id are paired within each block.
func parseCPUInfo(raw string) cpuInfoTable {
	table := cpuInfoTable{maxProcessor: -1, corePairs: make(map[[2]string]struct{})}
	var physicalID, coreID string
	flush := func() {
		if physicalID != "" && coreID != "" {
			table.corePairs[[2]string{physicalID, coreID}] = struct{}{}
		}
		physicalID, coreID = "", ""
	}

	s := bufio.NewScanner(strings.NewReader(raw))
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for s.Scan() {
		line := s.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		switch key {
		case "processor":
			if idx, err := strconv.Atoi(value); err == nil && idx > table.maxProcessor {
				table.maxProcessor = idx
			}
		case "model name":
			if table.modelName == "" {
				table.modelName = value
			}
		case "vendor_id":
			if table.vendorID == "" {
				table.vendorID = value
			}
		case "cpu family":
			if table.family == "" {
				table.family = value
			}
		case "flags":
			if table.flags == nil {
				table.flags = strings.Fields(value)
			}
		case "physical id":
			physicalID = value
		case "core id":
			coreID = value
		case "cpu mhz":
			if mhz, err := strconv.ParseFloat(value, 64); err == nil && mhz > 0 {
				table.mhz = append(table.mhz, mhz)
			}
		}
	}
	flush()
	return table
}

// architectureFromFamily derives the architecture of x86 parts from the family
// field and the long-mode flag. Other platforms report no family.
func (t cpuInfoTable) architectureFromFamily() string {
	if t.family == "" {
		return ""
	}
	for _, flag := range t.flags {
		if flag == "lm" {
			return "x86_64"
		}
	}
	return "i686"
}

// advertisedMHz returns the average and the maximum "cpu MHz" values.
func (t cpuInfoTable) advertisedMHz() (avg, maxMHz float64) {
	if len(t.mhz) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range t.mhz {
		sum += v
		if v > maxMHz {
			maxMHz = v
		}
	}
	return sum / float64(len(t.mhz)), maxMHz
}

// ReadIdentity returns the static CPU description. A successful read is cached
// for the lifetime of the collector.
func (c *CPUCollector) ReadIdentity(ctx context.Context) model.CPUIdentity {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	if c.identity != nil {
		return *c.identity
	}

	table, err := c.readCPUInfo()
	if err != nil {
		c.logger.Warn("cpu description table unavailable", "error", err)
	}

	id := model.CPUIdentity{
		ModelName: firstNonEmpty(table.modelName, unknownValue),
		VendorID:  firstNonEmpty(table.vendorID, unknownValue),
	}
	threads := table.maxProcessor + 1
	cores := len(table.corePairs)
	if cores == 0 {
		cores = countTopologyCores(filepath.Join(c.sysRoot, "devices/system/cpu"))
	}
	if cores == 0 {
		cores = threads
	}
	if threads <= 0 {
		threads = cores
	}
	if cores > threads {
		cores = threads
	}
	id.LogicalThreads = threads
	id.PhysicalCores = cores
	id.HyperThreading = threads > cores
	id.Architecture = c.architecture(ctx, table)

	if err == nil && ctx.Err() == nil {
		c.identity = &id
	}
	return id
}

func (c *CPUCollector) readCPUInfo() (cpuInfoTable, error) {
	raw, err := readSource(filepath.Join(c.procRoot, "cpuinfo"))
	if err != nil {
		return cpuInfoTable{maxProcessor: -1}, err
	}
	return parseCPUInfo(raw), nil
}

// architecture tries the family field, then the platform probe, then uname -m.
func (c *CPUCollector) architecture(ctx context.Context, table cpuInfoTable) string {
	if arch := table.architectureFromFamily(); arch != "" {
		return arch
	}
	if c.archProbe != nil {
		arch, err := c.archProbe()
		if err == nil && strings.TrimSpace(arch) != "" {
			return strings.TrimSpace(arch)
		}
		c.logger.Debug("platform architecture probe failed", "error", err)
	}
	out, err := c.runner.Run(ctx, "uname", "-m")
	if err != nil {
		c.logger.Debug("uname probe failed", "error", err, "outcome", CommandOutcome(err))
		return unknownValue
	}
	return firstNonEmpty(string(out), unknownValue)
}

// countTopologyCores counts distinct (package, core) pairs under cpuN/topology.
func countTopologyCores(cpuBase string) int {
	entries, err := os.ReadDir(cpuBase)
	if err != nil {
		return 0
	}
	unique := make(map[[2]string]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "cpu") || !isAllDigits(name[3:]) {
			continue
		}
		topologyDir := filepath.Join(cpuBase, name, "topology")
		packageID := readTrimmed(filepath.Join(topologyDir, "physical_package_id"))
		coreID := readTrimmed(filepath.Join(topologyDir, "core_id"))
		if packageID != "" && coreID != "" {
			unique[[2]string{packageID, coreID}] = struct{}{}
		}
	}
	return len(unique)
}
