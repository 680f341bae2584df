package version

// Info is written by the probe endpoint after its liveness line.
type Info struct {
	NodeID          string `json:"node_id"`
	Hostname        string `json:"hostname"`
	AgentVersion    string `json:"agent_version"`
	StreamMode      string `json:"stream_mode"`
	ProbeListenAddr string `json:"probe_listen_addr"`
	CheckedAtUnix   int64  `json:"checked_at_unix"`
}
