package system

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
)

// MemInfo carries the /proc/meminfo fields used for host memory accounting, in bytes.
type MemInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
	BufferBytes    uint64
	CachedBytes    uint64
	HasAvailable   bool
}

// ParseMemInfo reads "Key: value kB" lines. Values are converted from KB to bytes.
func ParseMemInfo(raw string) (MemInfo, error) {
	vals := map[string]uint64{}
	s := bufio.NewScanner(strings.NewReader(raw))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key := strings.TrimSuffix(parts[0], ":")
		v, convErr := strconv.ParseUint(parts[1], 10, 64)
		if convErr != nil {
			continue
		}
		vals[key] = v * 1024
	}
	if err := s.Err(); err != nil {
		return MemInfo{}, fmt.Errorf("scan meminfo: %w", err)
	}
	total, ok := vals["MemTotal"]
	if !ok || total == 0 {
		return MemInfo{}, fmt.Errorf("MemTotal missing")
	}
	avail, hasAvail := vals["MemAvailable"]
	return MemInfo{
		TotalBytes:     total,
		FreeBytes:      vals["MemFree"],
		AvailableBytes: avail,
		BufferBytes:    vals["Buffers"],
		CachedBytes:    vals["Cached"],
		HasAvailable:   hasAvail,
	}, nil
}

// Usage returns used and free bytes. Free prefers MemAvailable and falls back to
// MemFree+Buffers+Cached, clamped to total.
func (m MemInfo) Usage() (used, free uint64) {
	if m.HasAvailable {
		free = m.AvailableBytes
	} else {
		free = m.FreeBytes + m.BufferBytes + m.CachedBytes
	}
	if free > m.TotalBytes {
		free = m.TotalBytes
	}
	return m.TotalBytes - free, free
}
