package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostpulse-agent/internal/collector"
	"hostpulse-agent/internal/config"
	"hostpulse-agent/internal/libvirt"
	"hostpulse-agent/internal/metric/host"
	"hostpulse-agent/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	conn      *libvirt.ConnManager
	engine    *host.Engine
	scheduler *collector.Scheduler
	sink      stream.Sink
	health    *HealthStatus
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	return newAgent(cfg, logger, sink), nil
}

// NewOnce builds an agent that writes to w instead of the configured backend.
func NewOnce(cfg config.Config, logger *slog.Logger, w io.Writer) *Agent {
	return newAgent(cfg, logger, stream.NewWriterSink(w))
}

func newAgent(cfg config.Config, logger *slog.Logger, sink stream.Sink) *Agent {
	conn := libvirt.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger)
	engine := host.NewEngine(EngineOptions(cfg, conn), logger)

	health := NewHealthStatus()
	wrappedSink := &healthSink{sink: sink, health: health}
	scheduler := collector.NewScheduler(
		logger,
		engine,
		wrappedSink,
		collector.Identity{NodeID: cfg.NodeID, Hostname: cfg.Hostname, Version: cfg.AgentVersion},
		cfg.SnapshotInterval,
		cfg.CollectorErrorBackoff,
		cfg.StreamMaxProcesses,
	)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		conn:      conn,
		engine:    engine,
		scheduler: scheduler,
		sink:      wrappedSink,
		health:    health,
	}
}

// EngineOptions maps the agent configuration onto collector options. The
// hypervisor memory fallback is only wired when a libvirt URI is set.
func EngineOptions(cfg config.Config, conn *libvirt.ConnManager) host.Options {
	opts := host.Options{
		ProcRoot:          cfg.ProcRoot,
		SysRoot:           cfg.SysRoot,
		Runner:            host.NewExecRunner(cfg.CommandTimeout),
		CPUBootstrapDelay: cfg.CPUBootstrapDelay,
	}
	if conn.Configured() {
		opts.HypervisorMemory = libvirt.NewNodeMemorySource(conn)
	}
	return opts
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting hostpulse-agent",
		"node_id", a.cfg.NodeID,
		"stream_mode", a.cfg.StreamMode,
		"interval", a.cfg.SnapshotInterval,
		"libvirt", a.conn.Configured(),
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("hostpulse-agent stopped")
	return nil
}

// Once collects and sends a single snapshot, then releases the sink and the
// hypervisor connection.
func (a *Agent) Once(ctx context.Context) error {
	err := a.scheduler.CollectAndSend(ctx)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)
	return err
}

func BuildLogger(cfg config.Config) *slog.Logger {
	return buildLogger(cfg, os.Stderr)
}

// buildLogger writes to w. Stdout is left to the stdout sink.
func buildLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, hOpts))
	}
	return slog.New(slog.NewTextHandler(w, hOpts))
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendSnapshot(ctx context.Context, frame stream.SnapshotFrame) error {
	err := s.sink.SendSnapshot(ctx, frame)
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	if frame.TimestampUnix > 0 {
		s.health.MarkSnapshot(time.Unix(frame.TimestampUnix, 0).UTC(), frame.Partial)
	}
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
