// Package hostwatch samples host resource usage alongside the gateway
// collector so agent cost spikes can be correlated with machine load.
package hostwatch

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Probe reads one family of host gauges. Each returned key becomes a
// metric name in the history store.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (map[string]float64, error)
}

type cpuProbe struct{}

func NewCPUProbe() Probe {
	return cpuProbe{}
}

func (cpuProbe) Name() string {
	return "cpu"
}

func (cpuProbe) Sample(ctx context.Context) (map[string]float64, error) {
	total, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil || len(total) == 0 {
		return nil, fmt.Errorf("failed to get total cpu percent: %w", err)
	}
	return map[string]float64{"host_cpu_pct": total[0]}, nil
}

type memProbe struct{}

func NewMemProbe() Probe {
	return memProbe{}
}

func (memProbe) Name() string {
	return "memory"
}

func (memProbe) Sample(ctx context.Context) (map[string]float64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual memory: %w", err)
	}
	out := map[string]float64{"host_ram_pct": v.UsedPercent}

	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil && swap != nil && swap.Total > 0 {
		out["host_swap_pct"] = swap.UsedPercent
	}
	return out, nil
}

type diskProbe struct {
	path string
}

// NewDiskProbe samples usage of the filesystem holding path. An empty
// path means the root filesystem.
func NewDiskProbe(path string) Probe {
	if path == "" {
		path = "/"
	}
	return diskProbe{path: path}
}

func (diskProbe) Name() string {
	return "disk"
}

func (p diskProbe) Sample(ctx context.Context) (map[string]float64, error) {
	usage, err := disk.UsageWithContext(ctx, p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to get disk usage for %s: %w", p.path, err)
	}
	return map[string]float64{"host_disk_pct": usage.UsedPercent}, nil
}

// DefaultProbes returns the standard probe set.
func DefaultProbes() []Probe {
	return []Probe{NewCPUProbe(), NewMemProbe(), NewDiskProbe("")}
}
