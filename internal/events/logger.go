package events

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// EventLogger provides structured logging for key events in sysprobe.
type EventLogger struct {
	logger  *slog.Logger
	service string
	host    string
}

// NewEventLogger creates a new EventLogger with JSON output to stdout.
// It includes base attributes: service and host.
func NewEventLogger(service, host string) *EventLogger {
	return NewEventLoggerWithWriter(service, host, os.Stdout)
}

// NewEventLoggerWithWriter creates a new EventLogger with JSON output to a custom writer.
// Useful for testing or redirecting output.
func NewEventLoggerWithWriter(service, host string, w io.Writer) *EventLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(
		"service", service,
		"host", host,
	)
	return &EventLogger{
		logger:  logger,
		service: service,
		host:    host,
	}
}

// LogServerStarted logs the server accepting connections.
// event: "server_started"
// Attributes: addr
func (el *EventLogger) LogServerStarted(addr string) {
	el.logger.Info("server_started",
		"addr", addr,
	)
}

// LogServerStopped logs a clean server shutdown.
// event: "server_stopped"
func (el *EventLogger) LogServerStopped() {
	el.logger.Info("server_stopped")
}

// LogSessionStarted logs a new MCP session and its negotiated protocol version.
// event: "session_started"
// Attributes: session_id, protocol_version
func (el *EventLogger) LogSessionStarted(sessionID, protocolVersion string) {
	el.logger.Info("session_started",
		"session_id", sessionID,
		"protocol_version", protocolVersion,
	)
}

// LogToolCall logs one completed tool invocation.
// event: "tool_call"
// Attributes: tool, latency_ms, ok
func (el *EventLogger) LogToolCall(tool string, latencyMs int64, ok bool) {
	el.logger.Info("tool_call",
		"tool", tool,
		"latency_ms", latencyMs,
		"ok", ok,
	)
}

// LogCollectionFailure logs a metric that could not be read.
// event: "collection_failure"
// Attributes: metric, cause
func (el *EventLogger) LogCollectionFailure(metric, cause string) {
	el.logger.Warn("collection_failure",
		"metric", metric,
		"cause", cause,
	)
}

// LogSpeedSource logs one successful throughput sample.
// event: "speedtest_source"
// Attributes: url, mbps, elapsed_ms
func (el *EventLogger) LogSpeedSource(url string, mbps float64, elapsedMs int64) {
	el.logger.Info("speedtest_source",
		"url", url,
		"mbps", mbps,
		"elapsed_ms", elapsedMs,
	)
}

// LogSpeedSourceSkipped logs a throughput source that failed and was
// excluded from the measurement.
// event: "speedtest_source_skipped"
// Attributes: url, kind, cause
func (el *EventLogger) LogSpeedSourceSkipped(url, kind, cause string) {
	el.logger.Warn("speedtest_source_skipped",
		"url", url,
		"kind", kind,
		"cause", cause,
	)
}

// LogLatencyTarget logs one successful latency probe.
// event: "latency_target"
// Attributes: target, rtt_ms
func (el *EventLogger) LogLatencyTarget(target string, rttMs float64) {
	el.logger.Info("latency_target",
		"target", target,
		"rtt_ms", rttMs,
	)
}

// LogLatencyTargetSkipped logs a latency target that did not answer.
// event: "latency_target_skipped"
// Attributes: target, cause
func (el *EventLogger) LogLatencyTargetSkipped(target, cause string) {
	el.logger.Warn("latency_target_skipped",
		"target", target,
		"cause", cause,
	)
}

// LogSnapshotServed logs a snapshot digest being produced.
// event: "snapshot_served"
// Attributes: entries, failures
func (el *EventLogger) LogSnapshotServed(entries, failures int) {
	el.logger.Info("snapshot_served",
		"entries", entries,
		"failures", failures,
	)
}

// Global logger management
var (
	globalLogger *EventLogger
	globalMu     sync.RWMutex
)

// SetGlobalEventLogger sets the global event logger instance.
func SetGlobalEventLogger(l *EventLogger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// GetGlobalEventLogger returns the global event logger instance.
// If no logger is set, returns the shared no-op logger.
func GetGlobalEventLogger() *EventLogger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger != nil {
		return globalLogger
	}
	return NoopEventLogger()
}

var (
	noopLogger *EventLogger
	noopOnce   sync.Once
)

// NoopEventLogger returns a shared event logger that discards all events.
// Useful for testing or when event logging is disabled.
func NoopEventLogger() *EventLogger {
	noopOnce.Do(func() {
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
		noopLogger = &EventLogger{
			logger: slog.New(handler),
		}
	})
	return noopLogger
}
