package host

import (
	"context"
	"log/slog"
	"time"

	gohost "github.com/shirou/gopsutil/v3/host"

	"hostpulse-agent/internal/model"
)

const defaultCommandTimeout = 3 * time.Second

// Options configures the collectors. Zero fields take host defaults, except
// CPUBootstrapDelay which is used as given.
type Options struct {
	ProcRoot          string
	SysRoot           string
	Runner            CommandRunner
	CPUBootstrapDelay time.Duration
	HypervisorMemory  HypervisorMemorySource
	AddressLister     AddressLister
	ArchProbe         func() (string, error)
	Now               func() time.Time
	Sleep             func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.ProcRoot == "" {
		o.ProcRoot = "/proc"
	}
	if o.SysRoot == "" {
		o.SysRoot = "/sys"
	}
	if o.Runner == nil {
		o.Runner = NewExecRunner(defaultCommandTimeout)
	}
	if o.AddressLister == nil {
		o.AddressLister = PlatformAddresses
	}
	if o.ArchProbe == nil {
		o.ArchProbe = gohost.KernelArch
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepWithContext
	}
	return o
}

// Engine owns one instance of every collector and their sample caches.
// It is safe for concurrent use; overlapping calls serialize only on the
// CPU and process caches.
type Engine struct {
	cpu       *CPUCollector
	processes *ProcessCollector
	memory    *RAMCollector
	network   *NetworkCollector
	gpu       *GPUCollector
	now       func() time.Time
	logger    *slog.Logger
}

func NewEngine(opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Engine{
		cpu:       NewCPUCollector(opts, logger.With("collector", "cpu")),
		processes: NewProcessCollector(opts, logger.With("collector", "process")),
		memory:    NewRAMCollector(opts, logger.With("collector", "memory")),
		network:   NewNetworkCollector(opts, logger.With("collector", "network")),
		gpu:       NewGPUCollector(opts, logger.With("collector", "gpu")),
		now:       opts.Now,
		logger:    logger,
	}
}

func (e *Engine) CollectCpu(ctx context.Context) (model.CPUSnapshot, error) {
	return e.cpu.ReadSnapshot(ctx)
}

func (e *Engine) CollectMemory(ctx context.Context) model.MemoryUsage {
	return e.memory.ReadMemoryUsage(ctx)
}

func (e *Engine) CollectProcesses(ctx context.Context) ([]model.ProcessInfo, error) {
	return e.processes.ListProcesses(ctx)
}

func (e *Engine) CollectGpu(ctx context.Context) model.GpuSnapshot {
	return e.gpu.ReadSnapshot(ctx)
}

func (e *Engine) CollectNetwork(ctx context.Context) []model.NetworkInterface {
	return e.network.ListInterfaces(ctx)
}

// CollectSnapshot runs every collector in turn. A CPU tick table failure
// yields the remaining sections with a *PartialError. Cancellation discards
// everything gathered so far.
func (e *Engine) CollectSnapshot(ctx context.Context) (model.SystemSnapshot, error) {
	snap := model.SystemSnapshot{CollectedAt: e.now().UTC()}
	failed := map[string]error{}

	cpu, err := e.CollectCpu(ctx)
	if err != nil {
		if !IsFatal(err) {
			return model.SystemSnapshot{}, err
		}
		failed["cpu"] = err
	}
	snap.CPU = cpu

	snap.Memory = e.CollectMemory(ctx)
	if err := ctx.Err(); err != nil {
		return model.SystemSnapshot{}, err
	}

	if snap.Processes, err = e.CollectProcesses(ctx); err != nil {
		return model.SystemSnapshot{}, err
	}

	gpu := e.CollectGpu(ctx)
	snap.GPUs, snap.GPUUsage = gpu.Devices, gpu.Utilization
	if err := ctx.Err(); err != nil {
		return model.SystemSnapshot{}, err
	}

	snap.Network = e.CollectNetwork(ctx)
	if err := ctx.Err(); err != nil {
		return model.SystemSnapshot{}, err
	}

	if len(failed) > 0 {
		return snap, &PartialError{Sections: failed}
	}
	return snap, nil
}
