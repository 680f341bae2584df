package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"hostpulse-agent/internal/agent/version"
)

const probeOKLine = "hostpulse-agent:ok\n"

func (a *Agent) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.ProbeListenAddr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen probe endpoint %s: %w", addr, err)
	}
	return a.serveProbe(ctx, ln)
}

func (a *Agent) serveProbe(ctx context.Context, ln net.Listener) error {
	defer func() { _ = ln.Close() }()

	a.logger.Info("probe endpoint listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(acceptErr, &ne) && ne.Timeout() {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept probe endpoint %s: %w", ln.Addr(), acceptErr)
		}
		a.answerProbe(conn)
	}
}

// answerProbe writes the liveness line followed by one JSON line of agent identity.
func (a *Agent) answerProbe(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte(probeOKLine)); err != nil {
		a.logger.Debug("probe write failed", "error", err)
		return
	}
	line, err := version.Line(version.Get(a.cfg, time.Now()))
	if err != nil {
		a.logger.Debug("probe version encode failed", "error", err)
		return
	}
	_, _ = conn.Write(line)
}
