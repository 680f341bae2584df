package stream

import (
	"context"
	"encoding/json"

	"hostpulse-agent/internal/model"
)

// Sink delivers snapshot frames to a backend. Implementations are safe for
// sequential use by one scheduler; Close is called once on shutdown.
type Sink interface {
	SendSnapshot(ctx context.Context, frame SnapshotFrame) error
	Close(ctx context.Context) error
}

// SnapshotFrame is the unit sent on every transport.
type SnapshotFrame struct {
	NodeID        string               `json:"node_id"`
	Hostname      string               `json:"hostname"`
	AgentVersion  string               `json:"agent_version"`
	TimestampUnix int64                `json:"timestamp_unix"`
	Partial       bool                 `json:"partial,omitempty"`
	Snapshot      model.SystemSnapshot `json:"snapshot"`
}

func NewSnapshotFrame(nodeID, hostname, version string, snap model.SystemSnapshot) SnapshotFrame {
	return SnapshotFrame{
		NodeID:        nodeID,
		Hostname:      hostname,
		AgentVersion:  version,
		TimestampUnix: snap.CollectedAt.Unix(),
		Snapshot:      snap,
	}
}

func NewSnapshotEnvelope(frame SnapshotFrame) model.Envelope {
	return model.Envelope{
		Type:          model.MetricTypeSystemSnapshot,
		NodeID:        frame.NodeID,
		TimestampUnix: frame.TimestampUnix,
		Payload:       frame,
	}
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}
