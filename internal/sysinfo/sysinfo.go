// Package sysinfo reads raw host metrics from the operating system.
//
// The Provider interface is the seam between the OS and the rest of
// sysprobe: collectors consume Provider, production code uses the
// gopsutil-backed implementation from NewProvider, and tests substitute
// fakes. All readings are point-in-time and unnormalized; shaping into
// records happens in the collector package.
package sysinfo

import (
	"context"
	"time"
)

// BatteryState is the charge direction reported for a battery.
type BatteryState string

const (
	BatteryUnknown     BatteryState = "unknown"
	BatteryEmpty       BatteryState = "empty"
	BatteryFull        BatteryState = "full"
	BatteryCharging    BatteryState = "charging"
	BatteryDischarging BatteryState = "discharging"
)

// MemoryInfo holds virtual memory counters in bytes.
type MemoryInfo struct {
	Total     uint64
	Available uint64
	Used      uint64
}

// PartitionInfo describes one mounted filesystem with its usage counters.
type PartitionInfo struct {
	Device     string
	Mountpoint string
	Fstype     string
	Total      uint64
	Used       uint64
	Free       uint64
}

// InterfaceCounters holds cumulative and per-second traffic counters for
// one network interface. Rates are zero when only a single sample was
// taken or a counter moved backwards between samples.
type InterfaceCounters struct {
	Name            string
	BytesRecv       uint64
	BytesSent       uint64
	RecvBytesPerSec float64
	SentBytesPerSec float64
}

// BatteryInfo holds the raw reading for one battery. Capacities and
// charge rate are in the unit the platform reports (mWh/mW or mAh/mA);
// only their ratios are meaningful to callers.
type BatteryInfo struct {
	State           BatteryState
	CurrentCapacity float64
	FullCapacity    float64
	ChargeRate      float64
}

// HostInfo describes the host itself.
type HostInfo struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	KernelVersion   string
	UptimeSec       uint64
}

// Provider reads host metrics. Implementations must be safe for
// concurrent use.
type Provider interface {
	// CPUPercent samples CPU utilization per core over the given
	// interval and returns one 0-100 value per logical core.
	CPUPercent(ctx context.Context, interval time.Duration) ([]float64, error)

	// VirtualMemory returns current virtual memory counters.
	VirtualMemory(ctx context.Context) (*MemoryInfo, error)

	// Partitions returns mounted filesystems with usage counters.
	// Filesystems whose usage cannot be read are omitted.
	Partitions(ctx context.Context) ([]PartitionInfo, error)

	// NetCounters returns per-interface traffic counters. When interval
	// is positive it samples twice and fills in per-second rates.
	NetCounters(ctx context.Context, interval time.Duration) ([]InterfaceCounters, error)

	// Batteries returns one entry per attached battery. An empty slice
	// means the host has no battery and is not an error.
	Batteries(ctx context.Context) ([]BatteryInfo, error)

	// HostInfo returns static host identification and uptime.
	HostInfo(ctx context.Context) (*HostInfo, error)
}
