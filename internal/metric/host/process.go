package host

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"hostpulse-agent/internal/model"
)

// clockTicksPerSecond is USER_HZ, fixed at 100 on every mainstream Linux build.
const clockTicksPerSecond = 100

type processSample struct {
	userTicks   uint64
	systemTicks uint64
	startTime   uint64
	at          time.Time
}

type ProcessCollector struct {
	procRoot string
	logger   *slog.Logger
	now      func() time.Time
	samples  *SampleCache[int, processSample]
}

func NewProcessCollector(opts Options, logger *slog.Logger) *ProcessCollector {
	opts = opts.withDefaults()
	return &ProcessCollector{
		procRoot: opts.ProcRoot,
		logger:   logger,
		now:      opts.Now,
		samples:  NewSampleCache[int, processSample](),
	}
}

// ListProcesses scans every numeric /proc entry. Processes that vanish or
// cannot be read are skipped. After a complete scan the sample cache is
// replaced by this scan's samples; a cancelled scan leaves it untouched.
func (c *ProcessCollector) ListProcesses(ctx context.Context) ([]model.ProcessInfo, error) {
	entries, err := os.ReadDir(c.procRoot)
	if err != nil {
		c.logger.Warn("process table unavailable", "error", sourceError(ErrSourceAbsent, c.procRoot, err))
		return []model.ProcessInfo{}, nil
	}

	out := make([]model.ProcessInfo, 0, len(entries))
	err = c.samples.Update(func(prev map[int]processSample) (map[int]processSample, error) {
		next := make(map[int]processSample, len(entries))
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !entry.IsDir() || !isAllDigits(entry.Name()) {
				continue
			}
			pid, convErr := strconv.Atoi(entry.Name())
			if convErr != nil {
				continue
			}
			info, sample, readErr := c.readProcess(pid)
			if readErr != nil {
				c.logger.Debug("skipping process", "pid", pid, "error", readErr)
				continue
			}
			last, seen := prev[pid]
			info.CPUUsagePercent = processCPUPercent(last, sample, !seen)
			next[pid] = sample
			out = append(out, info)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// processCPUPercent converts the user+system tick delta to a percentage of one
// CPU over the elapsed wall time. A pid seen for the first time, or whose ticks
// or start time show it was reused, reports 0.
func processCPUPercent(prev, cur processSample, first bool) float64 {
	if first {
		return 0
	}
	if cur.startTime != prev.startTime || cur.userTicks < prev.userTicks || cur.systemTicks < prev.systemTicks {
		return 0
	}
	elapsed := cur.at.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	ticks := deltaCounter(cur.userTicks, prev.userTicks) + deltaCounter(cur.systemTicks, prev.systemTicks)
	seconds := float64(ticks) / clockTicksPerSecond
	return clampPercent(seconds / elapsed * 100)
}

func (c *ProcessCollector) readProcess(pid int) (model.ProcessInfo, processSample, error) {
	base := filepath.Join(c.procRoot, strconv.Itoa(pid))
	statRaw, err := readSource(filepath.Join(base, "stat"))
	if err != nil {
		return model.ProcessInfo{}, processSample{}, err
	}
	sample, err := parseProcessStat(statRaw)
	if err != nil {
		return model.ProcessInfo{}, processSample{}, sourceError(ErrSourceMalformed, filepath.Join(base, "stat"), err)
	}
	sample.at = c.now()

	statusRaw, err := readSource(filepath.Join(base, "status"))
	if err != nil {
		return model.ProcessInfo{}, processSample{}, err
	}
	statusName, rssKB := parseProcessStatus(statusRaw)

	cmdline, _ := os.ReadFile(filepath.Join(base, "cmdline"))
	name := firstNonEmpty(commandName(cmdline), statusName, fmt.Sprintf("Process %d", pid))

	return model.ProcessInfo{
		PID:      pid,
		Name:     name,
		MemoryMB: float64(rssKB) / 1024,
	}, sample, nil
}

// parseProcessStat reads utime, stime and starttime. The command name may
// contain spaces and parentheses, so fields are counted after the last ')'.
func parseProcessStat(raw string) (processSample, error) {
	end := strings.LastIndexByte(raw, ')')
	if end < 0 {
		return processSample{}, fmt.Errorf("missing command terminator")
	}
	fields := strings.Fields(raw[end+1:])
	// fields[0] is the state (field 3); utime is field 14, stime 15, starttime 22.
	if len(fields) < 20 {
		return processSample{}, fmt.Errorf("short stat line: %d fields", len(fields))
	}
	user, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return processSample{}, fmt.Errorf("parse utime: %w", err)
	}
	sys, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return processSample{}, fmt.Errorf("parse stime: %w", err)
	}
	start, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return processSample{}, fmt.Errorf("parse starttime: %w", err)
	}
	return processSample{userTicks: user, systemTicks: sys, startTime: start}, nil
}

func parseProcessStatus(raw string) (name string, rssKB uint64) {
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		switch key {
		case "Name":
			name = strings.TrimSpace(value)
		case "VmRSS":
			rssKB = parseUintFlexible(value)
		}
	}
	return name, rssKB
}

// commandName is the base name of argv[0], empty for kernel threads.
func commandName(cmdline []byte) string {
	argv0, _, _ := strings.Cut(string(cmdline), "\x00")
	argv0 = strings.TrimSpace(argv0)
	if argv0 == "" {
		return ""
	}
	// Some processes rewrite their argv into one space separated title.
	if fields := strings.Fields(argv0); len(fields) > 1 {
		if !strings.Contains(fields[0], "/") {
			return argv0
		}
		argv0 = fields[0]
	}
	base := filepath.Base(argv0)
	if base == "." || base == "/" {
		return ""
	}
	return base
}
