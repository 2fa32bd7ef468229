package collector

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	bytesPerGB = 1 << 30
	bytesPerMB = 1 << 20
)

// FormatCPU renders a CPUUsage record as a single line:
//
//	CPU Load: 12.35% (Cores: 10.50, 15.20%)
func FormatCPU(r CPUUsage) string {
	if len(r.PerCorePercent) == 0 {
		return fmt.Sprintf("CPU Load: %.2f%%", r.OverallPercent)
	}
	cores := make([]string, len(r.PerCorePercent))
	for i, v := range r.PerCorePercent {
		cores[i] = fmt.Sprintf("%.2f", v)
	}
	return fmt.Sprintf("CPU Load: %.2f%% (Cores: %s%%)", r.OverallPercent, strings.Join(cores, ", "))
}

// FormatMemory renders a MemoryUsage record as a single line:
//
//	Memory Usage: 51.42% (Used: 8.23 GB / Total: 16.00 GB, Free: 7.77 GB)
func FormatMemory(r MemoryUsage) string {
	return fmt.Sprintf("Memory Usage: %.2f%% (Used: %s / Total: %s, Free: %s)",
		r.UsedPercent, formatGB(r.UsedBytes), formatGB(r.TotalBytes), formatGB(r.FreeBytes))
}

// FormatDisk renders a DiskSpace record as a single line:
//
//	Disk Usage (/): 75.00% (Used: 750.00 GB / Total: 1000.00 GB, Free: 250.00 GB)
func FormatDisk(r DiskSpace) string {
	return fmt.Sprintf("Disk Usage (%s): %.2f%% (Used: %s / Total: %s, Free: %s)",
		r.Mountpoint, r.UsedPercent, formatGB(r.UsedBytes), formatGB(r.TotalBytes), formatGB(r.FreeBytes))
}

// FormatNetwork renders a NetworkUsage record as a single line:
//
//	Network (eth0): RX 1.23 GB (2.50 MB/s), TX 0.98 GB (1.10 MB/s)
func FormatNetwork(r NetworkUsage) string {
	return fmt.Sprintf("Network (%s): RX %s (%s), TX %s (%s)",
		r.Interface,
		formatGB(r.RxBytes), formatRate(r.RxBytesPerSec),
		formatGB(r.TxBytes), formatRate(r.TxBytesPerSec))
}

// FormatBattery renders a BatteryStatus record as a single line:
//
//	Battery: 85.00% (charging, 42 min remaining)
//	Battery: 85.00% (discharging)
//	No battery detected
func FormatBattery(r BatteryStatus) string {
	if !r.HasBattery {
		return "No battery detected"
	}
	state := "discharging"
	if r.Charging {
		state = "charging"
	}
	if r.TimeRemainingMin != nil {
		return fmt.Sprintf("Battery: %.2f%% (%s, %d min remaining)", r.Percent, state, *r.TimeRemainingMin)
	}
	return fmt.Sprintf("Battery: %.2f%% (%s)", r.Percent, state)
}

// SnapshotEntry is one metric line in a snapshot digest. Entries with a
// non-nil Err render as unavailable instead of aborting the digest.
type SnapshotEntry struct {
	Metric string
	Line   string
	Err    error
}

// FormatSnapshot renders a multi-line snapshot digest. The header
// carries the capture time; each entry becomes one bulleted line, with
// failed metrics reported inline by their underlying cause.
func FormatSnapshot(ts time.Time, entries []SnapshotEntry) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "System Snapshot (%s)\n", ts.Format(time.RFC3339))
	for _, e := range entries {
		if e.Err != nil {
			cause := e.Err
			if u := errors.Unwrap(cause); u != nil {
				cause = u
			}
			fmt.Fprintf(&sb, "- %s unavailable: %v\n", e.Metric, cause)
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(e.Line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatGB(b uint64) string {
	return fmt.Sprintf("%.2f GB", float64(b)/bytesPerGB)
}

func formatRate(bytesPerSec float64) string {
	return fmt.Sprintf("%.2f MB/s", bytesPerSec/bytesPerMB)
}
