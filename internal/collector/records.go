package collector

// Metric names used in errors, log events, and metric labels.
const (
	MetricCPU     = "cpu"
	MetricMemory  = "memory"
	MetricDisk    = "disk"
	MetricNetwork = "network"
	MetricBattery = "battery"
)

// CPUUsage is a point-in-time CPU load reading. OverallPercent is the
// mean of PerCorePercent; both are clamped to 0-100.
type CPUUsage struct {
	OverallPercent float64
	PerCorePercent []float64
}

// MemoryUsage holds virtual memory usage in bytes. FreeBytes is the
// memory available to new allocations, not the raw free counter.
type MemoryUsage struct {
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	UsedPercent float64
}

// DiskSpace holds usage for the largest mounted filesystem.
type DiskSpace struct {
	Mountpoint  string
	TotalBytes  uint64
	UsedBytes   uint64
	FreeBytes   uint64
	UsedPercent float64
}

// NetworkUsage holds traffic counters for the busiest interface.
type NetworkUsage struct {
	Interface     string
	RxBytes       uint64
	TxBytes       uint64
	RxBytesPerSec float64
	TxBytesPerSec float64
}

// BatteryStatus describes the primary battery. A host without a battery
// is a valid reading with HasBattery false. TimeRemainingMin is nil when
// the platform does not report a usable charge rate.
type BatteryStatus struct {
	HasBattery       bool
	Percent          float64
	Charging         bool
	TimeRemainingMin *int
}
