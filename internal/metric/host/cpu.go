package host

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"hostpulse-agent/internal/model"
	"hostpulse-agent/internal/system"
)

// CPUCollector reads CPU identity from /proc/cpuinfo and utilization from
// /proc/stat tick deltas.
type CPUCollector struct {
	procRoot       string
	sysRoot        string
	runner         CommandRunner
	logger         *slog.Logger
	archProbe      func() (string, error)
	bootstrapDelay time.Duration
	sleep          func(context.Context, time.Duration) error
	ticks          *SampleCache[string, system.CPUCounters]

	identityMu sync.Mutex
	identity   *model.CPUIdentity
}

func NewCPUCollector(opts Options, logger *slog.Logger) *CPUCollector {
	opts = opts.withDefaults()
	return &CPUCollector{
		procRoot:       opts.ProcRoot,
		sysRoot:        opts.SysRoot,
		runner:         opts.Runner,
		logger:         logger,
		archProbe:      opts.ArchProbe,
		bootstrapDelay: opts.CPUBootstrapDelay,
		sleep:          opts.Sleep,
		ticks:          NewSampleCache[string, system.CPUCounters](),
	}
}

// ReadUtilization diffs the current tick table against the cached one. On the
// first call it samples twice, bootstrapDelay apart. An unreadable tick table
// is returned as an error rather than a zero usage.
func (c *CPUCollector) ReadUtilization(ctx context.Context) (model.CPUUtilization, error) {
	var out model.CPUUtilization
	err := c.ticks.Update(func(prev map[string]system.CPUCounters) (map[string]system.CPUCounters, error) {
		cur, err := c.readTicks()
		if err != nil {
			return nil, err
		}
		if len(prev) == 0 {
			if err := c.sleep(ctx, c.bootstrapDelay); err != nil {
				return nil, err
			}
			first := cur
			if cur, err = c.readTicks(); err != nil {
				return nil, err
			}
			prev = first
		}
		out.UsagePercent = system.CPUUsage(prev["cpu"], cur["cpu"])
		out.PerCoreUsagePercent = perCoreUsage(prev, cur)
		return cur, nil
	})
	if err != nil {
		return model.CPUUtilization{}, err
	}
	out.MaxFrequencyMHz, out.CurrentFrequencyMHz = c.readFrequencies()
	return out, nil
}

func (c *CPUCollector) ReadSnapshot(ctx context.Context) (model.CPUSnapshot, error) {
	identity := c.ReadIdentity(ctx)
	util, err := c.ReadUtilization(ctx)
	if err != nil {
		return model.CPUSnapshot{Identity: identity}, err
	}
	return model.CPUSnapshot{Identity: identity, Utilization: util}, nil
}

func (c *CPUCollector) readTicks() (map[string]system.CPUCounters, error) {
	path := filepath.Join(c.procRoot, "stat")
	raw, err := readSource(path)
	if err != nil {
		return nil, err
	}
	stats, err := system.ParseCPUStat(raw)
	if err != nil {
		return nil, sourceError(ErrSourceMalformed, path, err)
	}
	return stats, nil
}

// perCoreUsage walks cpu0, cpu1, ... and stops at the first index missing from
// the current table. A core absent from the previous table reports 0.
func perCoreUsage(prev, cur map[string]system.CPUCounters) []float64 {
	out := make([]float64, 0, len(cur))
	for i := 0; ; i++ {
		label := "cpu" + strconv.Itoa(i)
		curCore, ok := cur[label]
		if !ok {
			return out
		}
		prevCore, ok := prev[label]
		if !ok {
			out = append(out, 0)
			continue
		}
		out = append(out, system.CPUUsage(prevCore, curCore))
	}
}

// readFrequencies averages scaling_cur_freq and takes the highest cpuinfo_max_freq
// across cores, falling back to the "cpu MHz" field, then 0.
func (c *CPUCollector) readFrequencies() (maxMHz, curMHz float64) {
	base := filepath.Join(c.sysRoot, "devices/system/cpu")
	curValues := readKHzFiles(filepath.Join(base, "cpu[0-9]*/cpufreq/scaling_cur_freq"))
	if len(curValues) == 0 {
		curValues = readKHzFiles(filepath.Join(base, "cpu[0-9]*/cpufreq/cpuinfo_cur_freq"))
	}
	for _, v := range curValues {
		curMHz += v
	}
	if len(curValues) > 0 {
		curMHz /= float64(len(curValues))
	}
	for _, v := range readKHzFiles(filepath.Join(base, "cpu[0-9]*/cpufreq/cpuinfo_max_freq")) {
		if v > maxMHz {
			maxMHz = v
		}
	}
	if curMHz > 0 && maxMHz > 0 {
		return maxMHz, curMHz
	}

	table, err := c.readCPUInfo()
	if err != nil {
		c.logger.Debug("cpu frequency fallback unavailable", "error", err)
		return maxMHz, curMHz
	}
	avg, top := table.advertisedMHz()
	if curMHz == 0 {
		curMHz = avg
	}
	if maxMHz == 0 {
		maxMHz = top
	}
	return maxMHz, curMHz
}

// readKHzFiles returns the parseable non-zero kHz values of the matching files in MHz.
func readKHzFiles(pattern string) []float64 {
	paths, err := filepath.Glob(pattern)
	if err != nil || len(paths) == 0 {
		return nil
	}
	out := make([]float64, 0, len(paths))
	for _, path := range paths {
		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			continue
		}
		khz := parseUintFlexible(string(raw))
		if khz == 0 {
			continue
		}
		out = append(out, float64(khz)/1000)
	}
	return out
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFatal reports whether err means the collector contract could not be met,
// as opposed to a cancellation by the caller.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
