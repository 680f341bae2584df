package system

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// CPUCounters holds the seven cumulative tick counters of one /proc/stat cpu line.
type CPUCounters struct {
	User    uint64
	Nice    uint64
	System  uint64
	Idle    uint64
	IOWait  uint64
	IRQ     uint64
	SoftIRQ uint64
	Total   uint64
}

// IdleTicks is idle plus iowait.
func (c CPUCounters) IdleTicks() uint64 {
	return c.Idle + c.IOWait
}

// ParseCPUStat returns the counters of every "cpu" and "cpuN" line keyed by label.
// Lines that carry fewer than seven counters are rejected.
func ParseCPUStat(raw string) (map[string]CPUCounters, error) {
	out := make(map[string]CPUCounters, 16)
	s := bufio.NewScanner(strings.NewReader(raw))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if !strings.HasPrefix(line, "cpu") {
			continue
		}
		parts := strings.Fields(line)
		counters, err := parseCPUCounters(parts[1:])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", parts[0], err)
		}
		out[parts[0]] = counters
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan cpu stat: %w", err)
	}
	if _, ok := out["cpu"]; !ok {
		return nil, fmt.Errorf("cpu aggregate line not found")
	}
	return out, nil
}

func parseCPUCounters(fields []string) (CPUCounters, error) {
	if len(fields) < 7 {
		return CPUCounters{}, fmt.Errorf("unexpected cpu fields: %v", fields)
	}
	vals := make([]uint64, 7)
	for i := range vals {
		v, err := strconv.ParseUint(fields[i], 10, 64)
		if err != nil {
			return CPUCounters{}, fmt.Errorf("parse cpu stat %q: %w", fields[i], err)
		}
		vals[i] = v
	}
	c := CPUCounters{
		User:    vals[0],
		Nice:    vals[1],
		System:  vals[2],
		Idle:    vals[3],
		IOWait:  vals[4],
		IRQ:     vals[5],
		SoftIRQ: vals[6],
	}
	for _, v := range vals {
		c.Total += v
	}
	return c, nil
}

// CPUUsage is 100 * (totalDiff - idleDiff) / totalDiff clamped to [0,100].
// A zero or negative total delta yields 0.
func CPUUsage(prev, cur CPUCounters) float64 {
	if cur.Total <= prev.Total {
		return 0
	}
	totalDelta := float64(cur.Total - prev.Total)
	idleDelta := 0.0
	if cur.IdleTicks() > prev.IdleTicks() {
		idleDelta = float64(cur.IdleTicks() - prev.IdleTicks())
	}
	usage := ((totalDelta - idleDelta) / totalDelta) * 100
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}
