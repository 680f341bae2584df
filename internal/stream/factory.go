package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"

	"hostpulse-agent/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCSnapshotMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(
			cfg.BackendWSURL,
			cfg.BackendToken,
			tlsCfg,
			cfg.WebSocketWriteTimeout,
			cfg.WebSocketReadTimeout,
			cfg.WebSocketPingInterval,
			logger,
		), nil
	case config.StreamModeStdout:
		return NewWriterSink(os.Stdout), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
