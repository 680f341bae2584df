package agent

import (
	"sync/atomic"
	"time"
)

type HealthStatus struct {
	libvirtConnected atomic.Bool
	streamConnected  atomic.Bool
	lastSnapshotAt   atomic.Int64
	lastPartial      atomic.Bool
	snapshotsSent    atomic.Uint64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetLibvirtConnected(ok bool) {
	h.libvirtConnected.Store(ok)
}

func (h *HealthStatus) SetStreamConnected(ok bool) {
	h.streamConnected.Store(ok)
}

func (h *HealthStatus) MarkSnapshot(ts time.Time, partial bool) {
	h.lastSnapshotAt.Store(ts.UnixNano())
	h.lastPartial.Store(partial)
	h.snapshotsSent.Add(1)
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"libvirt_connected": h.libvirtConnected.Load(),
		"stream_connected":  h.streamConnected.Load(),
		"snapshots_sent":    h.snapshotsSent.Load(),
	}
	if v := h.lastSnapshotAt.Load(); v > 0 {
		out["last_snapshot_at"] = time.Unix(0, v).UTC()
		out["last_snapshot_partial"] = h.lastPartial.Load()
	}
	return out
}
