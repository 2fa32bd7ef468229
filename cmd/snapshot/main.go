// Command snapshot collects every host metric once and prints the
// digest. The network benchmarks are off by default; enable them with
// -speed and -latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/config"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
	"github.com/bc-dunia/sysprobe/internal/sysinfo"
)

type probe struct {
	metric  string
	collect func(context.Context) (string, error)
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	withSpeed := flag.Bool("speed", false, "Include the internet speed benchmark (transfers test payloads)")
	withLatency := flag.Bool("latency", false, "Include the internet latency probe")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall collection timeout")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	col := collector.New(sysinfo.NewProvider(), cfg.BuildCollectorConfig())
	probes := collectorProbes(col)

	if *withSpeed {
		est := speedtest.NewEstimator(cfg.BuildSpeedTestConfig())
		probes = append(probes, probe{speedtest.MetricSpeed, func(ctx context.Context) (string, error) {
			res, err := est.Measure(ctx)
			if err != nil {
				return "", err
			}
			return speedtest.FormatSpeed(res), nil
		}})
	}
	if *withLatency {
		prober := speedtest.NewLatencyProber(cfg.BuildLatencyConfig())
		probes = append(probes, probe{speedtest.MetricLatency, func(ctx context.Context) (string, error) {
			res, err := prober.MeasureLatency(ctx)
			if err != nil {
				return "", err
			}
			return speedtest.FormatLatency(res), nil
		}})
	}

	entries := make([]collector.SnapshotEntry, 0, len(probes))
	for _, p := range probes {
		line, err := p.collect(ctx)
		if err != nil {
			entries = append(entries, collector.SnapshotEntry{Metric: p.metric, Err: err})
			continue
		}
		entries = append(entries, collector.SnapshotEntry{Metric: p.metric, Line: line})
	}

	fmt.Print(collector.FormatSnapshot(time.Now(), entries))
}

func collectorProbes(col *collector.Collector) []probe {
	return []probe{
		{collector.MetricCPU, func(ctx context.Context) (string, error) {
			rec, err := col.CPUUsage(ctx)
			if err != nil {
				return "", err
			}
			return collector.FormatCPU(rec), nil
		}},
		{collector.MetricMemory, func(ctx context.Context) (string, error) {
			rec, err := col.MemoryUsage(ctx)
			if err != nil {
				return "", err
			}
			return collector.FormatMemory(rec), nil
		}},
		{collector.MetricDisk, func(ctx context.Context) (string, error) {
			rec, err := col.DiskSpace(ctx)
			if err != nil {
				return "", err
			}
			return collector.FormatDisk(rec), nil
		}},
		{collector.MetricNetwork, func(ctx context.Context) (string, error) {
			rec, err := col.NetworkUsage(ctx)
			if err != nil {
				return "", err
			}
			return collector.FormatNetwork(rec), nil
		}},
		{collector.MetricBattery, func(ctx context.Context) (string, error) {
			rec, err := col.BatteryStatus(ctx)
			if err != nil {
				return "", err
			}
			return collector.FormatBattery(rec), nil
		}},
	}
}
