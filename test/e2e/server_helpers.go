// Package e2e exercises the assembled sysprobe server through its
// public HTTP surface, the way an MCP client would.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/events"
	"github.com/bc-dunia/sysprobe/internal/metrics"
	"github.com/bc-dunia/sysprobe/internal/server"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
	"github.com/bc-dunia/sysprobe/internal/sysinfo"
	"github.com/bc-dunia/sysprobe/internal/types"
)

type fakeProvider struct {
	cpu       []float64
	cpuErr    error
	mem       *sysinfo.MemoryInfo
	memErr    error
	parts     []sysinfo.PartitionInfo
	partsErr  error
	ifaces    []sysinfo.InterfaceCounters
	ifacesErr error
	bats      []sysinfo.BatteryInfo
	batsErr   error
	host      *sysinfo.HostInfo
	hostErr   error
}

func (f *fakeProvider) CPUPercent(ctx context.Context, interval time.Duration) ([]float64, error) {
	return f.cpu, f.cpuErr
}

func (f *fakeProvider) VirtualMemory(ctx context.Context) (*sysinfo.MemoryInfo, error) {
	return f.mem, f.memErr
}

func (f *fakeProvider) Partitions(ctx context.Context) ([]sysinfo.PartitionInfo, error) {
	return f.parts, f.partsErr
}

func (f *fakeProvider) NetCounters(ctx context.Context, interval time.Duration) ([]sysinfo.InterfaceCounters, error) {
	return f.ifaces, f.ifacesErr
}

func (f *fakeProvider) Batteries(ctx context.Context) ([]sysinfo.BatteryInfo, error) {
	return f.bats, f.batsErr
}

func (f *fakeProvider) HostInfo(ctx context.Context) (*sysinfo.HostInfo, error) {
	return f.host, f.hostErr
}

func happyProvider() *fakeProvider {
	return &fakeProvider{
		cpu: []float64{12.0, 18.0},
		mem: &sysinfo.MemoryInfo{Total: 32 << 30, Used: 8 << 30, Available: 24 << 30},
		parts: []sysinfo.PartitionInfo{
			{Mountpoint: "/", Total: 500 << 30, Used: 200 << 30, Free: 300 << 30},
			{Mountpoint: "/data", Total: 2000 << 30, Used: 500 << 30, Free: 1500 << 30},
		},
		ifaces: []sysinfo.InterfaceCounters{
			{Name: "lo", BytesRecv: 1 << 20, BytesSent: 1 << 20},
			{Name: "eth0", BytesRecv: 4 << 30, BytesSent: 2 << 30, RecvBytesPerSec: 1 << 20, SentBytesPerSec: 1 << 19},
		},
		bats: []sysinfo.BatteryInfo{
			{State: sysinfo.BatteryDischarging, CurrentCapacity: 60, FullCapacity: 80, ChargeRate: 20},
		},
	}
}

// logBuffer is a concurrency-safe sink for EventLogger output.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// logEvent is one parsed JSON log line.
type logEvent map[string]interface{}

func (e logEvent) msg() string {
	s, _ := e["msg"].(string)
	return s
}

func (e logEvent) str(key string) string {
	s, _ := e[key].(string)
	return s
}

func newBufferLogger(buf *logBuffer) *events.EventLogger {
	return events.NewEventLoggerWithWriter("sysprobe", "e2e-host", buf)
}

// parseEvents decodes every line the event logger has written so far.
func parseEvents(t *testing.T, buf *logBuffer) []logEvent {
	t.Helper()

	var parsed []logEvent
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var ev logEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("failed to parse log line %q: %v", line, err)
		}
		parsed = append(parsed, ev)
	}
	return parsed
}

// findEvent returns the first event with the given msg, or nil.
func findEvent(evs []logEvent, msg string) logEvent {
	for _, ev := range evs {
		if ev.msg() == msg {
			return ev
		}
	}
	return nil
}

// testEnv is a fully wired server plus the sinks tests assert against.
type testEnv struct {
	Server  *server.Server
	Events  *logBuffer
	Metrics *metrics.Collector

	uploadTarget string
}

type envOption func(*envConfig)

type envConfig struct {
	withUpload   bool
	stallSource  bool
	latencyProbe func(ctx context.Context, target string) (time.Duration, error)
}

// withUploadTarget adds an upload sink so the speed benchmark measures
// both directions.
func withUploadTarget() envOption {
	return func(c *envConfig) { c.withUpload = true }
}

// withStallingSource prepends a download source that never responds
// within its timeout.
func withStallingSource() envOption {
	return func(c *envConfig) { c.stallSource = true }
}

// withLatencyProbe replaces the default always-20ms probe stub.
func withLatencyProbe(probe func(ctx context.Context, target string) (time.Duration, error)) envOption {
	return func(c *envConfig) { c.latencyProbe = probe }
}

// startEnv starts a wired server over the provider: httptest download
// source, optional upload sink, stubbed latency probe, JSON event log
// into a buffer, and a fresh metrics collector.
func startEnv(t *testing.T, provider sysinfo.Provider, opts ...envOption) *testEnv {
	t.Helper()

	cfg := &envConfig{
		latencyProbe: func(ctx context.Context, target string) (time.Duration, error) {
			return 20 * time.Millisecond, nil
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	payload := bytes.Repeat([]byte("s"), 256<<10)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(source.Close)

	speedCfg := &speedtest.Config{
		DownloadSources: []string{source.URL + "/test.bin"},
		SourceTimeout:   5 * time.Second,
		UploadBytes:     64 << 10,
	}

	if cfg.stallSource {
		stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		t.Cleanup(stall.Close)
		speedCfg.DownloadSources = append([]string{stall.URL + "/stall.bin"}, speedCfg.DownloadSources...)
		speedCfg.SourceTimeout = 300 * time.Millisecond
	}

	env := &testEnv{
		Events:  &logBuffer{},
		Metrics: metrics.NewCollector(),
	}

	if cfg.withUpload {
		sink := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		t.Cleanup(sink.Close)
		env.uploadTarget = sink.URL + "/upload"
		speedCfg.UploadTargets = []string{env.uploadTarget}
	}

	logger := newBufferLogger(env.Events)
	events.SetGlobalEventLogger(logger)
	t.Cleanup(func() { events.SetGlobalEventLogger(nil) })

	est := speedtest.NewEstimator(speedCfg)
	prober := speedtest.NewLatencyProberWithProbe(
		&speedtest.LatencyConfig{Targets: []string{"probe-a", "probe-b", "probe-c"}, PingCount: 1, TargetTimeout: time.Second},
		cfg.latencyProbe,
	)

	srv := server.New(server.DefaultConfig(), collector.New(provider, nil), est, prober)
	srv.SetEventLogger(logger)
	srv.SetMetricsCollector(env.Metrics)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	env.Server = srv
	return env
}

func rpcCall(t *testing.T, mcpURL, method string, params interface{}) *types.JSONRPCResponse {
	t.Helper()

	req := types.JSONRPCRequest{JSONRPC: "2.0", ID: 1, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("failed to marshal params: %v", err)
		}
		req.Params = raw
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}

	resp, err := http.Post(mcpURL, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}

	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v, body: %s", err, data)
	}
	return &rpcResp
}

func callTool(t *testing.T, mcpURL, name string) types.ToolsCallResult {
	t.Helper()

	resp := rpcCall(t, mcpURL, "tools/call", types.ToolsCallParams{Name: name})
	if resp.Error != nil {
		t.Fatalf("tools/call %s returned protocol error: %s", name, resp.Error.Message)
	}
	var result types.ToolsCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal tool result: %v", err)
	}
	return result
}

func toolText(t *testing.T, result types.ToolsCallResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	return result.Content[0].Text
}

func initialize(t *testing.T, mcpURL string) (sessionID string) {
	t.Helper()

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25","capabilities":{},"clientInfo":{"name":"e2e-client","version":"1.0.0"}}}`
	resp, err := http.Post(mcpURL, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("initialize request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal initialize response: %v", err)
	}
	if rpcResp.Error != nil {
		t.Fatalf("initialize failed: %s", rpcResp.Error.Message)
	}
	return resp.Header.Get("Mcp-Session-Id")
}
