package libvirt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	golibvirt "github.com/digitalocean/go-libvirt"
)

func TestMemoryUsageFromStats(t *testing.T) {
	stats := []golibvirt.NodeGetMemoryStats{
		{Field: "total", Value: 16000000},
		{Field: "free", Value: 2000000},
		{Field: "buffers", Value: 100000},
		{Field: "cached", Value: 3000000},
	}
	got, err := memoryUsageFromStats(stats)
	if err != nil {
		t.Fatalf("memoryUsageFromStats: %v", err)
	}
	if got.TotalBytes != 16000000*1024 || got.FreeBytes != 5100000*1024 || got.UsedBytes != 10900000*1024 {
		t.Fatalf("usage = %+v", got)
	}
}

func TestMemoryUsageFromStatsRejectsEmpty(t *testing.T) {
	if _, err := memoryUsageFromStats(nil); err == nil {
		t.Fatalf("empty stats accepted")
	}
	if _, err := memoryUsageFromStats([]golibvirt.NodeGetMemoryStats{{Field: "free", Value: 1}}); err == nil {
		t.Fatalf("zero total accepted")
	}
}

func TestMemoryUsageFromStatsClampsFree(t *testing.T) {
	got, err := memoryUsageFromStats([]golibvirt.NodeGetMemoryStats{
		{Field: "Total", Value: 100},
		{Field: "Free", Value: 150},
	})
	if err != nil {
		t.Fatalf("memoryUsageFromStats: %v", err)
	}
	if got.UsedBytes != 0 || got.FreeBytes != got.TotalBytes {
		t.Fatalf("usage = %+v", got)
	}
}

func TestUnconfiguredConnManager(t *testing.T) {
	m := NewConnManager("", time.Second, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if m.Configured() {
		t.Fatalf("empty uri reported as configured")
	}
	if _, err := NewNodeMemorySource(m).NodeMemory(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParseURIRequiresScheme(t *testing.T) {
	m := NewConnManager("/var/run/libvirt/libvirt-sock", time.Second, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := m.parseURI(); err == nil {
		t.Fatalf("uri without scheme accepted")
	}
	m = NewConnManager("qemu:///system", time.Second, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if u, err := m.parseURI(); err != nil || u.Scheme != "qemu" {
		t.Fatalf("parseURI = %v, %v", u, err)
	}
}
