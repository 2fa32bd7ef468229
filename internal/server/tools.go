package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/otel"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
	"github.com/bc-dunia/sysprobe/internal/types"
)

// toolCatalog returns the telemetry tool definitions. Every tool takes
// no arguments and returns a single text content block.
func toolCatalog() []types.Tool {
	schema := json.RawMessage(`{"type":"object"}`)
	defs := []struct {
		name  string
		title string
		desc  string
	}{
		{"get_cpu_usage", "CPU Usage", "Current CPU load, overall and per core."},
		{"get_memory_usage", "Memory Usage", "Virtual memory usage of the host."},
		{"get_disk_space", "Disk Space", "Usage of the largest mounted filesystem."},
		{"get_network_usage", "Network Usage", "Traffic counters and rates for the busiest network interface."},
		{"get_battery_status", "Battery Status", "Charge state of the primary battery, if present."},
		{"get_internet_speed", "Internet Speed", "Download and upload throughput benchmark. Transfers test payloads; expect tens of seconds."},
		{"get_internet_latency", "Internet Latency", "Median round-trip time to the configured ping targets."},
	}

	tools := make([]types.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, types.Tool{
			Name:        d.name,
			Title:       d.title,
			Description: d.desc,
			InputSchema: schema,
			Annotations: &types.ToolAnnotations{ReadOnlyHint: true},
		})
	}
	return tools
}

func resourceCatalog() types.ResourcesListResult {
	return types.ResourcesListResult{
		Resources: []types.Resource{
			{
				URI:         snapshotURI,
				Name:        "System Snapshot",
				Description: "Multi-line digest of every telemetry reading.",
				MimeType:    "text/plain",
			},
		},
	}
}

// executeTool runs the named tool. The second return reports whether
// the tool exists; probe failures come back as isError results carrying
// the error text, never as transport errors.
func (s *Server) executeTool(ctx context.Context, name string) (types.ToolsCallResult, bool) {
	var (
		metric  string
		collect func(context.Context) (string, error)
	)
	switch name {
	case "get_cpu_usage":
		metric, collect = collector.MetricCPU, s.cpuLine
	case "get_memory_usage":
		metric, collect = collector.MetricMemory, s.memoryLine
	case "get_disk_space":
		metric, collect = collector.MetricDisk, s.diskLine
	case "get_network_usage":
		metric, collect = collector.MetricNetwork, s.networkLine
	case "get_battery_status":
		metric, collect = collector.MetricBattery, s.batteryLine
	case "get_internet_speed":
		metric, collect = speedtest.MetricSpeed, s.speedLine
	case "get_internet_latency":
		metric, collect = speedtest.MetricLatency, s.latencyLine
	default:
		return types.ToolsCallResult{}, false
	}

	line, err := s.collectLine(ctx, metric, collect)
	if err != nil {
		kind := errorKind(err)
		otel.RecordError(s.tracer.SpanFromContext(ctx), err, kind)
		s.otelMetrics.RecordError(ctx, kind)
		return toolErrorResult(err.Error()), true
	}
	return textResult(line), true
}

// collectLine runs one probe and funnels failures into the event log
// and both metric surfaces.
func (s *Server) collectLine(ctx context.Context, metric string, collect func(context.Context) (string, error)) (string, error) {
	line, err := collect(ctx)
	if err != nil {
		s.logger.LogCollectionFailure(metric, causeMessage(err))
		s.metrics.RecordCollectionFailure(metric)
		s.otelMetrics.RecordCollectionFailure(ctx, metric)
		return "", err
	}
	return line, nil
}

func (s *Server) cpuLine(ctx context.Context) (string, error) {
	rec, err := s.collectors.CPUUsage(ctx)
	if err != nil {
		return "", err
	}
	return collector.FormatCPU(rec), nil
}

func (s *Server) memoryLine(ctx context.Context) (string, error) {
	rec, err := s.collectors.MemoryUsage(ctx)
	if err != nil {
		return "", err
	}
	return collector.FormatMemory(rec), nil
}

func (s *Server) diskLine(ctx context.Context) (string, error) {
	rec, err := s.collectors.DiskSpace(ctx)
	if err != nil {
		return "", err
	}
	return collector.FormatDisk(rec), nil
}

func (s *Server) networkLine(ctx context.Context) (string, error) {
	rec, err := s.collectors.NetworkUsage(ctx)
	if err != nil {
		return "", err
	}
	return collector.FormatNetwork(rec), nil
}

func (s *Server) batteryLine(ctx context.Context) (string, error) {
	rec, err := s.collectors.BatteryStatus(ctx)
	if err != nil {
		return "", err
	}
	return collector.FormatBattery(rec), nil
}

func (s *Server) speedLine(ctx context.Context) (string, error) {
	res, err := s.estimator.Measure(ctx)
	if err != nil {
		return "", err
	}
	s.metrics.SetSpeedResult(res.DownloadMbps, res.UploadMbps)
	s.otelMetrics.SetDownloadMbps(res.DownloadMbps)
	return speedtest.FormatSpeed(res), nil
}

func (s *Server) latencyLine(ctx context.Context) (string, error) {
	res, err := s.prober.MeasureLatency(ctx)
	if err != nil {
		return "", err
	}
	s.metrics.SetLatencyResult(res.MedianRttMs)
	return speedtest.FormatLatency(res), nil
}

// snapshotText runs every probe and renders the digest. Failed metrics
// become unavailable lines; the digest itself never fails.
func (s *Server) snapshotText(ctx context.Context) string {
	probes := []struct {
		metric  string
		collect func(context.Context) (string, error)
	}{
		{collector.MetricCPU, s.cpuLine},
		{collector.MetricMemory, s.memoryLine},
		{collector.MetricDisk, s.diskLine},
		{collector.MetricNetwork, s.networkLine},
		{collector.MetricBattery, s.batteryLine},
		{speedtest.MetricSpeed, s.speedLine},
		{speedtest.MetricLatency, s.latencyLine},
	}

	entries := make([]collector.SnapshotEntry, 0, len(probes))
	failures := 0
	for _, p := range probes {
		line, err := s.collectLine(ctx, p.metric, p.collect)
		if err != nil {
			failures++
			entries = append(entries, collector.SnapshotEntry{Metric: p.metric, Err: err})
			continue
		}
		entries = append(entries, collector.SnapshotEntry{Metric: p.metric, Line: line})
	}

	s.metrics.RecordSnapshot()
	s.logger.LogSnapshotServed(len(entries), failures)
	return collector.FormatSnapshot(time.Now(), entries)
}

// causeMessage strips the domain error wrapper so log events carry the
// underlying cause, matching the snapshot's unavailable lines.
func causeMessage(err error) string {
	if u := errors.Unwrap(err); u != nil {
		return u.Error()
	}
	return err.Error()
}

func errorKind(err error) string {
	var ce *collector.CollectionError
	if errors.As(err, &ce) {
		return "collection"
	}
	var se *speedtest.SpeedTestError
	if errors.As(err, &se) {
		return "speedtest"
	}
	return "internal"
}
