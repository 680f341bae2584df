package version

import (
	"encoding/json"
	"time"

	"hostpulse-agent/internal/config"
)

func Get(cfg config.Config, now time.Time) Info {
	return Info{
		NodeID:          cfg.NodeID,
		Hostname:        cfg.Hostname,
		AgentVersion:    cfg.AgentVersion,
		StreamMode:      string(cfg.StreamMode),
		ProbeListenAddr: cfg.ProbeListenAddr,
		CheckedAtUnix:   now.UTC().Unix(),
	}
}

// Line renders info as one JSON line.
func Line(info Info) ([]byte, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	return append(raw, '\n'), nil
}
