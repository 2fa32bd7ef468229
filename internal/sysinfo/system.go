package sysinfo

import (
	"context"
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// systemProvider reads metrics from the local OS via gopsutil and the
// platform battery APIs.
type systemProvider struct{}

// NewProvider returns a Provider backed by the local operating system.
func NewProvider() Provider {
	return &systemProvider{}
}

func (p *systemProvider) CPUPercent(ctx context.Context, interval time.Duration) ([]float64, error) {
	return cpu.PercentWithContext(ctx, interval, true)
}

func (p *systemProvider) VirtualMemory(ctx context.Context) (*MemoryInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &MemoryInfo{
		Total:     vm.Total,
		Available: vm.Available,
		Used:      vm.Used,
	}, nil
}

func (p *systemProvider) Partitions(ctx context.Context) ([]PartitionInfo, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]PartitionInfo, 0, len(parts))
	for _, part := range parts {
		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil || usage == nil {
			// Pseudo filesystems and stale mounts fail here; skip them.
			continue
		}
		out = append(out, PartitionInfo{
			Device:     part.Device,
			Mountpoint: part.Mountpoint,
			Fstype:     part.Fstype,
			Total:      usage.Total,
			Used:       usage.Used,
			Free:       usage.Free,
		})
	}
	return out, nil
}

func (p *systemProvider) NetCounters(ctx context.Context, interval time.Duration) ([]InterfaceCounters, error) {
	first, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		out := make([]InterfaceCounters, 0, len(first))
		for _, c := range first {
			if isLoopback(c.Name) {
				continue
			}
			out = append(out, InterfaceCounters{
				Name:      c.Name,
				BytesRecv: c.BytesRecv,
				BytesSent: c.BytesSent,
			})
		}
		return out, nil
	}

	if err := sleepContext(ctx, interval); err != nil {
		return nil, err
	}

	second, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, err
	}

	prev := make(map[string]psnet.IOCountersStat, len(first))
	for _, c := range first {
		prev[c.Name] = c
	}

	out := make([]InterfaceCounters, 0, len(second))
	for _, c := range second {
		if isLoopback(c.Name) {
			continue
		}
		counters := InterfaceCounters{
			Name:      c.Name,
			BytesRecv: c.BytesRecv,
			BytesSent: c.BytesSent,
		}
		if p, ok := prev[c.Name]; ok {
			counters.RecvBytesPerSec = counterRate(p.BytesRecv, c.BytesRecv, interval)
			counters.SentBytesPerSec = counterRate(p.BytesSent, c.BytesSent, interval)
		}
		out = append(out, counters)
	}
	return out, nil
}

func (p *systemProvider) Batteries(ctx context.Context) ([]BatteryInfo, error) {
	bats, err := battery.GetAll()
	if err != nil {
		// Per-battery read errors still return usable entries for the
		// batteries that could be read; anything else is fatal.
		if _, partial := err.(battery.Errors); !partial {
			return nil, err
		}
	}

	out := make([]BatteryInfo, 0, len(bats))
	for _, b := range bats {
		if b == nil {
			continue
		}
		out = append(out, BatteryInfo{
			State:           batteryState(b.State),
			CurrentCapacity: b.Current,
			FullCapacity:    b.Full,
			ChargeRate:      b.ChargeRate,
		})
	}
	return out, nil
}

func (p *systemProvider) HostInfo(ctx context.Context) (*HostInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelVersion:   info.KernelVersion,
		UptimeSec:       info.Uptime,
	}, nil
}

// counterRate converts two cumulative counter samples into bytes per
// second. Counters that moved backwards (interface reset) yield zero.
func counterRate(prev, cur uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 || cur < prev {
		return 0
	}
	return float64(cur-prev) / elapsed.Seconds()
}

func batteryState(s battery.State) BatteryState {
	switch s {
	case battery.Charging:
		return BatteryCharging
	case battery.Discharging:
		return BatteryDischarging
	case battery.Full:
		return BatteryFull
	case battery.Empty:
		return BatteryEmpty
	default:
		return BatteryUnknown
	}
}

// isLoopback filters interfaces whose cumulative counters would
// otherwise dominate busiest-interface selection.
func isLoopback(name string) bool {
	return name == "lo" || name == "lo0"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
