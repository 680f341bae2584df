package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StreamMode string

const (
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	StreamModeStdout    StreamMode = "stdout"
	HardcodedVersion    string     = "V0.1"
)

type Config struct {
	NodeID                string
	Hostname              string
	ProbeListenAddr       string
	SnapshotInterval      time.Duration
	HealthInterval        time.Duration
	ReconnectInterval     time.Duration
	ShutdownTimeout       time.Duration
	StreamMode            StreamMode
	BackendGRPCAddr       string
	BackendWSURL          string
	BackendToken          string
	AgentVersion          string
	TLSEnabled            bool
	TLSSkipVerify         bool
	TLSCAPath             string
	TLSCertPath           string
	TLSKeyPath            string
	LogJSON               bool
	LogLevel              string
	GRPCSnapshotMethod    string
	WebSocketWriteTimeout time.Duration
	WebSocketReadTimeout  time.Duration
	WebSocketPingInterval time.Duration
	CollectorErrorBackoff time.Duration
	MaxReconnectJitter    time.Duration
	StreamMaxProcesses    int

	// Engine inputs.
	ProcRoot          string
	SysRoot           string
	CommandTimeout    time.Duration
	CPUBootstrapDelay time.Duration
	LibvirtURI        string
}

// LoadEnvFile merges a dotenv file into the process environment. Variables
// already set win. A missing default file is not an error.
func LoadEnvFile(path string) error {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = env("HOSTPULSE_ENV_FILE", ".env")
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		NodeID:                env("HOSTPULSE_NODE_ID", hostname),
		Hostname:              hostname,
		ProbeListenAddr:       env("HOSTPULSE_PROBE_ADDR", "0.0.0.0:7443"),
		SnapshotInterval:      envDuration("HOSTPULSE_SNAPSHOT_INTERVAL", 5*time.Second),
		HealthInterval:        envDuration("HOSTPULSE_HEALTH_INTERVAL", 10*time.Second),
		ReconnectInterval:     envDuration("HOSTPULSE_RECONNECT_INTERVAL", 4*time.Second),
		ShutdownTimeout:       envDuration("HOSTPULSE_SHUTDOWN_TIMEOUT", 20*time.Second),
		StreamMode:            StreamMode(strings.ToLower(env("HOSTPULSE_STREAM_MODE", string(StreamModeStdout)))),
		BackendGRPCAddr:       env("HOSTPULSE_BACKEND_GRPC_ADDR", "127.0.0.1:3001"),
		BackendWSURL:          env("HOSTPULSE_BACKEND_WS_URL", "ws://127.0.0.1:3001/ws/snapshots"),
		BackendToken:          env("HOSTPULSE_BACKEND_TOKEN", ""),
		AgentVersion:          HardcodedVersion,
		TLSEnabled:            envBool("HOSTPULSE_TLS_ENABLED", false),
		TLSSkipVerify:         envBool("HOSTPULSE_TLS_SKIP_VERIFY", false),
		TLSCAPath:             env("HOSTPULSE_TLS_CA_PATH", ""),
		TLSCertPath:           env("HOSTPULSE_TLS_CERT_PATH", ""),
		TLSKeyPath:            env("HOSTPULSE_TLS_KEY_PATH", ""),
		LogJSON:               envBool("HOSTPULSE_LOG_JSON", false),
		LogLevel:              strings.ToLower(env("HOSTPULSE_LOG_LEVEL", "info")),
		GRPCSnapshotMethod:    env("HOSTPULSE_GRPC_SNAPSHOT_METHOD", "/hostpulse.telemetry.v1.TelemetryService/StreamSnapshots"),
		WebSocketWriteTimeout: envDuration("HOSTPULSE_WS_WRITE_TIMEOUT", 5*time.Second),
		WebSocketReadTimeout:  envDuration("HOSTPULSE_WS_READ_TIMEOUT", 15*time.Second),
		WebSocketPingInterval: envDuration("HOSTPULSE_WS_PING_INTERVAL", 10*time.Second),
		CollectorErrorBackoff: envDuration("HOSTPULSE_COLLECTOR_ERROR_BACKOFF", 1500*time.Millisecond),
		MaxReconnectJitter:    envDuration("HOSTPULSE_RECONNECT_MAX_JITTER", 900*time.Millisecond),
		StreamMaxProcesses:    envInt("HOSTPULSE_STREAM_MAX_PROCESSES", 0),
		ProcRoot:              env("HOSTPULSE_PROC_ROOT", "/proc"),
		SysRoot:               env("HOSTPULSE_SYS_ROOT", "/sys"),
		CommandTimeout:        envDuration("HOSTPULSE_COMMAND_TIMEOUT", 3*time.Second),
		CPUBootstrapDelay:     envDuration("HOSTPULSE_CPU_BOOTSTRAP_DELAY", time.Second),
		LibvirtURI:            env("HOSTPULSE_LIBVIRT_URI", ""),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.NodeID == "" {
		return errors.New("HOSTPULSE_NODE_ID is required")
	}
	if strings.TrimSpace(c.AgentVersion) == "" {
		return errors.New("agent version must not be empty")
	}
	if strings.TrimSpace(c.ProbeListenAddr) == "" {
		return errors.New("HOSTPULSE_PROBE_ADDR is required")
	}
	if c.SnapshotInterval <= 0 {
		return errors.New("HOSTPULSE_SNAPSHOT_INTERVAL must be > 0")
	}
	if c.HealthInterval <= 0 {
		return errors.New("HOSTPULSE_HEALTH_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("HOSTPULSE_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.CommandTimeout <= 0 {
		return errors.New("HOSTPULSE_COMMAND_TIMEOUT must be > 0")
	}
	if c.CPUBootstrapDelay < 0 {
		return errors.New("HOSTPULSE_CPU_BOOTSTRAP_DELAY must be >= 0")
	}
	if c.StreamMaxProcesses < 0 {
		return errors.New("HOSTPULSE_STREAM_MAX_PROCESSES must be >= 0")
	}
	if strings.TrimSpace(c.ProcRoot) == "" || strings.TrimSpace(c.SysRoot) == "" {
		return errors.New("HOSTPULSE_PROC_ROOT and HOSTPULSE_SYS_ROOT must not be empty")
	}
	switch c.StreamMode {
	case StreamModeGRPC, StreamModeWebSocket, StreamModeStdout:
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	if c.StreamMode == StreamModeGRPC {
		if c.BackendGRPCAddr == "" {
			return errors.New("HOSTPULSE_BACKEND_GRPC_ADDR is required for grpc mode")
		}
		if strings.TrimSpace(c.GRPCSnapshotMethod) == "" {
			return errors.New("HOSTPULSE_GRPC_SNAPSHOT_METHOD is required for grpc mode")
		}
	}
	if c.StreamMode == StreamModeWebSocket && c.BackendWSURL == "" {
		return errors.New("HOSTPULSE_BACKEND_WS_URL is required for websocket mode")
	}
	return nil
}

func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.TLSSkipVerify}
	if c.TLSCAPath != "" {
		caBytes, err := os.ReadFile(c.TLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	if c.TLSCertPath != "" || c.TLSKeyPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" {
			return nil, errors.New("both TLS cert and key are required")
		}
		crt, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load mTLS cert/key: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{crt}
	}
	return tlsCfg, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
