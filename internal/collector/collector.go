// Package collector shapes raw host readings into fixed record types.
//
// Each collect method performs one full reading: it queries the sysinfo
// provider, applies the selection and percent rules, and returns either
// a complete record or a CollectionError naming the metric that failed.
// Collectors hold no state between calls.
package collector

import (
	"context"
	"math"
	"time"

	"github.com/bc-dunia/sysprobe/internal/sysinfo"
)

// Config holds sampling intervals for the rate-based collectors.
type Config struct {
	CPUSampleInterval time.Duration
	NetSampleInterval time.Duration
}

// DefaultConfig returns the default sampling configuration.
func DefaultConfig() *Config {
	return &Config{
		CPUSampleInterval: 500 * time.Millisecond,
		NetSampleInterval: 500 * time.Millisecond,
	}
}

// Collector reads host metrics through a sysinfo.Provider.
type Collector struct {
	provider sysinfo.Provider
	cfg      *Config
}

// New creates a Collector. A nil cfg uses DefaultConfig.
func New(provider sysinfo.Provider, cfg *Config) *Collector {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Collector{provider: provider, cfg: cfg}
}

// CPUUsage samples per-core CPU load and derives the overall load as
// the mean of the cores. A host that reports no cores yields a zero
// record rather than an error.
func (c *Collector) CPUUsage(ctx context.Context) (CPUUsage, error) {
	perCore, err := c.provider.CPUPercent(ctx, c.cfg.CPUSampleInterval)
	if err != nil {
		return CPUUsage{}, &CollectionError{Metric: MetricCPU, Cause: err}
	}

	cores := make([]float64, len(perCore))
	for i, v := range perCore {
		cores[i] = clampPercent(v)
	}
	return CPUUsage{
		OverallPercent: meanOf(cores),
		PerCorePercent: cores,
	}, nil
}

// MemoryUsage returns current virtual memory usage.
func (c *Collector) MemoryUsage(ctx context.Context) (MemoryUsage, error) {
	vm, err := c.provider.VirtualMemory(ctx)
	if err != nil {
		return MemoryUsage{}, &CollectionError{Metric: MetricMemory, Cause: err}
	}
	if vm == nil {
		vm = &sysinfo.MemoryInfo{}
	}
	return MemoryUsage{
		TotalBytes:  vm.Total,
		UsedBytes:   vm.Used,
		FreeBytes:   vm.Available,
		UsedPercent: UsedPercent(vm.Used, vm.Total),
	}, nil
}

// DiskSpace returns usage for the largest filesystem by total capacity.
// Ties keep the first filesystem in provider order.
func (c *Collector) DiskSpace(ctx context.Context) (DiskSpace, error) {
	parts, err := c.provider.Partitions(ctx)
	if err != nil {
		return DiskSpace{}, &CollectionError{Metric: MetricDisk, Cause: err}
	}
	if len(parts) == 0 {
		return DiskSpace{}, &CollectionError{Metric: MetricDisk, Cause: errNoFilesystems}
	}

	largest := parts[0]
	for _, p := range parts[1:] {
		if p.Total > largest.Total {
			largest = p
		}
	}
	return DiskSpace{
		Mountpoint:  largest.Mountpoint,
		TotalBytes:  largest.Total,
		UsedBytes:   largest.Used,
		FreeBytes:   largest.Free,
		UsedPercent: UsedPercent(largest.Used, largest.Total),
	}, nil
}

// NetworkUsage returns counters for the busiest interface, measured by
// cumulative received plus sent bytes. Ties keep the first interface in
// provider order.
func (c *Collector) NetworkUsage(ctx context.Context) (NetworkUsage, error) {
	ifaces, err := c.provider.NetCounters(ctx, c.cfg.NetSampleInterval)
	if err != nil {
		return NetworkUsage{}, &CollectionError{Metric: MetricNetwork, Cause: err}
	}
	if len(ifaces) == 0 {
		return NetworkUsage{}, &CollectionError{Metric: MetricNetwork, Cause: errNoInterfaces}
	}

	busiest := ifaces[0]
	for _, iface := range ifaces[1:] {
		if iface.BytesRecv+iface.BytesSent > busiest.BytesRecv+busiest.BytesSent {
			busiest = iface
		}
	}
	return NetworkUsage{
		Interface:     busiest.Name,
		RxBytes:       busiest.BytesRecv,
		TxBytes:       busiest.BytesSent,
		RxBytesPerSec: busiest.RecvBytesPerSec,
		TxBytesPerSec: busiest.SentBytesPerSec,
	}, nil
}

// BatteryStatus returns the state of the first attached battery. A host
// with no battery returns HasBattery false, not an error.
func (c *Collector) BatteryStatus(ctx context.Context) (BatteryStatus, error) {
	bats, err := c.provider.Batteries(ctx)
	if err != nil {
		return BatteryStatus{}, &CollectionError{Metric: MetricBattery, Cause: err}
	}
	if len(bats) == 0 {
		return BatteryStatus{HasBattery: false}, nil
	}

	b := bats[0]
	status := BatteryStatus{
		HasBattery: true,
		Percent:    ratioPercent(b.CurrentCapacity, b.FullCapacity),
		Charging:   b.State == sysinfo.BatteryCharging,
	}

	// Minutes remaining needs a charge rate; platforms that report zero
	// leave the estimate out.
	switch {
	case b.State == sysinfo.BatteryDischarging && b.ChargeRate > 0:
		mins := int(b.CurrentCapacity / b.ChargeRate * 60)
		status.TimeRemainingMin = &mins
	case b.State == sysinfo.BatteryCharging && b.ChargeRate > 0 && b.FullCapacity > b.CurrentCapacity:
		mins := int((b.FullCapacity - b.CurrentCapacity) / b.ChargeRate * 60)
		status.TimeRemainingMin = &mins
	}
	return status, nil
}

// UsedPercent computes used/total as a percentage. A zero total yields
// zero, never NaN.
func UsedPercent(used, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(used) / float64(total) * 100
}

func ratioPercent(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return clampPercent(part / whole * 100)
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
