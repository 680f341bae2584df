package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"hostpulse-agent/internal/metric/host"
	"hostpulse-agent/internal/model"
	"hostpulse-agent/internal/stream"
)

// SnapshotCollector is the part of the engine the scheduler drives.
type SnapshotCollector interface {
	CollectSnapshot(ctx context.Context) (model.SystemSnapshot, error)
}

type Identity struct {
	NodeID   string
	Hostname string
	Version  string
}

type Scheduler struct {
	logger       *slog.Logger
	engine       SnapshotCollector
	sink         stream.Sink
	identity     Identity
	interval     time.Duration
	errorBackoff time.Duration
	maxProcesses int
}

func NewScheduler(
	logger *slog.Logger,
	engine SnapshotCollector,
	sink stream.Sink,
	identity Identity,
	interval, errorBackoff time.Duration,
	maxProcesses int,
) *Scheduler {
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		logger:       logger,
		engine:       engine,
		sink:         sink,
		identity:     identity,
		interval:     interval,
		errorBackoff: errorBackoff,
		maxProcesses: maxProcesses,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.runSnapshotLoop(gctx)
	})
	return g.Wait()
}

func (s *Scheduler) runSnapshotLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	if err := s.CollectAndSend(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial snapshot collect failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.CollectAndSend(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("snapshot collect/send failed", "error", err)
				s.sleepWithContext(ctx, s.errorBackoff)
			}
		}
	}
}

// CollectAndSend takes one snapshot and hands it to the sink. A partial
// snapshot is still sent, flagged as such.
func (s *Scheduler) CollectAndSend(ctx context.Context) error {
	snap, err := s.engine.CollectSnapshot(ctx)
	partial := false
	if err != nil {
		var pe *host.PartialError
		if !errors.As(err, &pe) {
			return fmt.Errorf("collect snapshot: %w", err)
		}
		s.logger.Error("snapshot is partial", "error", err, "failed_sections", len(pe.Sections))
		partial = true
	}

	snap.Processes = TopProcesses(snap.Processes, s.maxProcesses)
	frame := stream.NewSnapshotFrame(s.identity.NodeID, s.identity.Hostname, s.identity.Version, snap)
	frame.Partial = partial

	sendCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	if err := s.sink.SendSnapshot(sendCtx, frame); err != nil {
		return fmt.Errorf("send snapshot: %w", err)
	}
	s.logger.Debug("snapshot sent",
		"processes", len(snap.Processes),
		"interfaces", len(snap.Network),
		"gpus", len(snap.GPUs),
		"partial", partial,
	)
	return nil
}

// TopProcesses keeps the n busiest processes by CPU, then memory. n <= 0
// returns the list untouched.
func TopProcesses(procs []model.ProcessInfo, n int) []model.ProcessInfo {
	if n <= 0 || len(procs) <= n {
		return procs
	}
	out := make([]model.ProcessInfo, len(procs))
	copy(out, procs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CPUUsagePercent != out[j].CPUUsagePercent {
			return out[i].CPUUsagePercent > out[j].CPUUsagePercent
		}
		if out[i].MemoryMB != out[j].MemoryMB {
			return out[i].MemoryMB > out[j].MemoryMB
		}
		return out[i].PID < out[j].PID
	})
	return out[:n]
}

func (s *Scheduler) sleepWithContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
