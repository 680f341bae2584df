package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	if a.conn.Configured() {
		if err := a.conn.Healthy(ctx); err != nil {
			a.logger.Warn("initial libvirt connect failed, memory fallback degraded", "error", err)
		} else {
			a.health.SetLibvirtConnected(true)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.checkHealth(ctx)
		}
	}
}

func (a *Agent) checkHealth(ctx context.Context) {
	if !a.conn.Configured() {
		a.logHealth("ok")
		return
	}
	if err := a.conn.Healthy(ctx); err != nil {
		a.logger.Warn("libvirt health check failed, reconnecting", "error", err)
		a.health.SetLibvirtConnected(false)
		reconnectCtx, cancel := context.WithTimeout(ctx, a.cfg.HealthInterval)
		defer cancel()
		if recErr := a.conn.Reconnect(reconnectCtx); recErr != nil {
			a.logger.Error("libvirt reconnect failed", "error", recErr)
			return
		}
		a.health.SetLibvirtConnected(true)
		a.logHealth("recovered")
		return
	}
	a.health.SetLibvirtConnected(true)
	a.logHealth("ok")
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.health.Snapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("stream sink close failed", "error", err)
	}
	a.health.SetStreamConnected(false)
	if err := a.conn.Close(); err != nil {
		a.logger.Warn("libvirt close failed", "error", err)
	}
	a.health.SetLibvirtConnected(false)
}
