// Package metrics provides Prometheus metrics exposition for sysprobe.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector collects and exposes sysprobe metrics in Prometheus format.
// Thread-safe for concurrent access.
type Collector struct {
	mu sync.RWMutex

	toolCalls          map[string]int64          // tool -> count
	toolDurations      map[string]*histogramData // tool -> histogram
	toolErrors         map[string]int64          // tool -> count
	collectionFailures map[string]int64          // metric -> count
	sessionsTotal      int64
	snapshotRequests   int64

	// Last measured values; nil until the first measurement completes.
	downloadMbps *float64
	uploadMbps   *float64
	latencyMs    *float64

	// Time function for testing
	nowFunc func() time.Time
}

// histogramData holds histogram data for Prometheus exposition.
type histogramData struct {
	sum   float64
	count int64
}

// NewCollector creates a new metrics Collector.
func NewCollector() *Collector {
	return &Collector{
		toolCalls:          make(map[string]int64),
		toolDurations:      make(map[string]*histogramData),
		toolErrors:         make(map[string]int64),
		collectionFailures: make(map[string]int64),
		nowFunc:            time.Now,
	}
}

// RecordToolCall records one completed tool invocation.
func (c *Collector) RecordToolCall(tool string, durationMs int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolCalls[tool]++

	if c.toolDurations[tool] == nil {
		c.toolDurations[tool] = &histogramData{}
	}
	c.toolDurations[tool].sum += float64(durationMs) / 1000.0
	c.toolDurations[tool].count++

	if !ok {
		c.toolErrors[tool]++
	}
}

// RecordCollectionFailure records a metric that could not be read.
func (c *Collector) RecordCollectionFailure(metric string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectionFailures[metric]++
}

// RecordSession records a new MCP session.
func (c *Collector) RecordSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionsTotal++
}

// RecordSnapshot records a snapshot digest being served.
func (c *Collector) RecordSnapshot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshotRequests++
}

// SetSpeedResult records the latest throughput measurement.
func (c *Collector) SetSpeedResult(downloadMbps float64, uploadMbps *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.downloadMbps = &downloadMbps
	c.uploadMbps = nil
	if uploadMbps != nil {
		v := *uploadMbps
		c.uploadMbps = &v
	}
}

// SetLatencyResult records the latest latency measurement.
func (c *Collector) SetLatencyResult(medianMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencyMs = &medianMs
}

// Expose returns the metrics in Prometheus text exposition format.
func (c *Collector) Expose() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var sb strings.Builder
	timestamp := c.nowFunc().UnixMilli()

	// sysprobe_tool_calls_total
	c.writeToolCalls(&sb, timestamp)

	// sysprobe_tool_call_duration_seconds
	c.writeToolDurations(&sb, timestamp)

	// sysprobe_tool_call_errors_total
	c.writeToolErrors(&sb, timestamp)

	// sysprobe_collection_failures_total
	c.writeCollectionFailures(&sb, timestamp)

	// sysprobe_sessions_total / sysprobe_snapshot_requests_total
	c.writeTotals(&sb, timestamp)

	// sysprobe_speedtest_* / sysprobe_latency_*
	c.writeMeasurements(&sb, timestamp)

	return sb.String()
}

func (c *Collector) writeToolCalls(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP sysprobe_tool_calls_total Total number of tool invocations\n")
	sb.WriteString("# TYPE sysprobe_tool_calls_total counter\n")

	// Sort keys for deterministic output
	keys := make([]string, 0, len(c.toolCalls))
	for k := range c.toolCalls {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, tool := range keys {
		count := c.toolCalls[tool]
		fmt.Fprintf(sb, "sysprobe_tool_calls_total{tool=%q} %d %d\n", tool, count, timestamp)
	}
}

func (c *Collector) writeToolDurations(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP sysprobe_tool_call_duration_seconds Duration of tool invocations in seconds\n")
	sb.WriteString("# TYPE sysprobe_tool_call_duration_seconds histogram\n")

	// Sort keys for deterministic output
	keys := make([]string, 0, len(c.toolDurations))
	for k := range c.toolDurations {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, tool := range keys {
		data := c.toolDurations[tool]
		fmt.Fprintf(sb, "sysprobe_tool_call_duration_seconds_sum{tool=%q} %.6f %d\n", tool, data.sum, timestamp)
		fmt.Fprintf(sb, "sysprobe_tool_call_duration_seconds_count{tool=%q} %d %d\n", tool, data.count, timestamp)
	}
}

func (c *Collector) writeToolErrors(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP sysprobe_tool_call_errors_total Total number of failed tool invocations\n")
	sb.WriteString("# TYPE sysprobe_tool_call_errors_total counter\n")

	keys := make([]string, 0, len(c.toolErrors))
	for k := range c.toolErrors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, tool := range keys {
		count := c.toolErrors[tool]
		fmt.Fprintf(sb, "sysprobe_tool_call_errors_total{tool=%q} %d %d\n", tool, count, timestamp)
	}
}

func (c *Collector) writeCollectionFailures(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP sysprobe_collection_failures_total Total number of metric collection failures\n")
	sb.WriteString("# TYPE sysprobe_collection_failures_total counter\n")

	keys := make([]string, 0, len(c.collectionFailures))
	for k := range c.collectionFailures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, metric := range keys {
		count := c.collectionFailures[metric]
		fmt.Fprintf(sb, "sysprobe_collection_failures_total{metric=%q} %d %d\n", metric, count, timestamp)
	}
}

func (c *Collector) writeTotals(sb *strings.Builder, timestamp int64) {
	sb.WriteString("# HELP sysprobe_sessions_total Total number of MCP sessions initialized\n")
	sb.WriteString("# TYPE sysprobe_sessions_total counter\n")
	fmt.Fprintf(sb, "sysprobe_sessions_total %d %d\n", c.sessionsTotal, timestamp)

	sb.WriteString("# HELP sysprobe_snapshot_requests_total Total number of snapshot digests served\n")
	sb.WriteString("# TYPE sysprobe_snapshot_requests_total counter\n")
	fmt.Fprintf(sb, "sysprobe_snapshot_requests_total %d %d\n", c.snapshotRequests, timestamp)
}

func (c *Collector) writeMeasurements(sb *strings.Builder, timestamp int64) {
	if c.downloadMbps != nil {
		sb.WriteString("# HELP sysprobe_speedtest_download_mbps Last measured download throughput in Mbps\n")
		sb.WriteString("# TYPE sysprobe_speedtest_download_mbps gauge\n")
		fmt.Fprintf(sb, "sysprobe_speedtest_download_mbps %.2f %d\n", *c.downloadMbps, timestamp)
	}
	if c.uploadMbps != nil {
		sb.WriteString("# HELP sysprobe_speedtest_upload_mbps Last measured upload throughput in Mbps\n")
		sb.WriteString("# TYPE sysprobe_speedtest_upload_mbps gauge\n")
		fmt.Fprintf(sb, "sysprobe_speedtest_upload_mbps %.2f %d\n", *c.uploadMbps, timestamp)
	}
	if c.latencyMs != nil {
		sb.WriteString("# HELP sysprobe_latency_median_ms Last measured median round-trip latency in milliseconds\n")
		sb.WriteString("# TYPE sysprobe_latency_median_ms gauge\n")
		fmt.Fprintf(sb, "sysprobe_latency_median_ms %.2f %d\n", *c.latencyMs, timestamp)
	}
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.toolCalls = make(map[string]int64)
	c.toolDurations = make(map[string]*histogramData)
	c.toolErrors = make(map[string]int64)
	c.collectionFailures = make(map[string]int64)
	c.sessionsTotal = 0
	c.snapshotRequests = 0
	c.downloadMbps = nil
	c.uploadMbps = nil
	c.latencyMs = nil
}
