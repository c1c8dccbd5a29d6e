// Package resourceguard caps how many targets the Transfer Supervisor
// fans out to concurrently, based on the orchestrator host's own free
// memory. CPU, disk, and load figures are collected alongside it but do
// not affect the cap. It runs once per invocation, before any target
// worker starts, and never touches a remote host.
package resourceguard

import (
	"log/slog"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Stats is one snapshot of local headroom.
type Stats struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// Guard bounds effective parallelism against configured thresholds.
type Guard struct {
	Logger *slog.Logger

	// MaxParallelTargets is the ceiling Check never exceeds regardless of
	// headroom. Default 8.
	MaxParallelTargets int
	// MinFreeMemoryPercent below which Check starts narrowing
	// parallelism. Default 10 (i.e. memory.UsedPercent must stay under
	// 90 for full parallelism).
	MinFreeMemoryPercent float64
}

// New builds a Guard with the given ceiling and memory floor, defaulting
// non-positive values the same way config.DaemonConfig.validate() does
// for ResourceGuardConfig.
func New(logger *slog.Logger, maxParallelTargets int, minFreeMemoryPercent float64) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	if maxParallelTargets <= 0 {
		maxParallelTargets = 8
	}
	if minFreeMemoryPercent <= 0 {
		minFreeMemoryPercent = 10
	}
	return &Guard{Logger: logger, MaxParallelTargets: maxParallelTargets, MinFreeMemoryPercent: minFreeMemoryPercent}
}

// Collect reads current CPU/memory/disk/load headroom. A failed
// sub-collection logs at debug and leaves that field zero, matching the
// teacher's system monitor tolerance for a platform lacking one of the
// gopsutil backends.
func (g *Guard) Collect() Stats {
	var s Stats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		s.CPUPercent = percentages[0]
	} else {
		g.Logger.Debug("resource guard: failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = v.UsedPercent
	} else {
		g.Logger.Debug("resource guard: failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		s.DiskUsagePercent = d.UsedPercent
	} else {
		g.Logger.Debug("resource guard: failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		s.LoadAverage = l.Load1
	} else {
		g.Logger.Debug("resource guard: failed to collect load stats", "error", err)
	}

	return s
}

// AllowedParallelism returns how many targets may run concurrently given
// requested (the number of targets in the run) and current headroom. A
// requested count of 0 or less yields 0. Otherwise it never returns
// more than MaxParallelTargets or less than 1 — a single target is
// always allowed to proceed regardless of local pressure; the guard
// only narrows fan-out, it never blocks a run outright.
func (g *Guard) AllowedParallelism(requested int) int {
	if requested <= 0 {
		return 0
	}

	stats := g.Collect()
	allowed := requested
	if allowed > g.MaxParallelTargets {
		allowed = g.MaxParallelTargets
	}

	freeMemoryPercent := 100 - stats.MemoryPercent
	if freeMemoryPercent < g.MinFreeMemoryPercent {
		g.Logger.Warn("resource guard: low memory headroom, narrowing parallelism",
			"free_memory_percent", freeMemoryPercent,
			"min_free_memory_percent", g.MinFreeMemoryPercent,
		)
		allowed = 1
	}

	if allowed < 1 {
		allowed = 1
	}
	return allowed
}
