package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/sysprobe/internal/auth"
	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/mcp"
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
		cpu: []float64{10.5, 15.2},
		mem: &sysinfo.MemoryInfo{Total: 16 << 30, Used: 8 << 30, Available: 8 << 30},
		parts: []sysinfo.PartitionInfo{
			{Mountpoint: "/", Total: 1000 << 30, Used: 750 << 30, Free: 250 << 30},
		},
		ifaces: []sysinfo.InterfaceCounters{
			{Name: "eth0", BytesRecv: 1 << 30, BytesSent: 1 << 29, RecvBytesPerSec: 2.5 * (1 << 20), SentBytesPerSec: 1.1 * (1 << 20)},
		},
		bats: []sysinfo.BatteryInfo{
			{State: sysinfo.BatteryCharging, CurrentCapacity: 85, FullCapacity: 100},
		},
	}
}

// newTestServer wires a server over the fake provider, an httptest
// download source, and a stubbed latency probe, started on an ephemeral
// loopback port.
func newTestServer(t *testing.T, provider sysinfo.Provider) *Server {
	t.Helper()

	payload := bytes.Repeat([]byte("x"), 256<<10)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(source.Close)

	est := speedtest.NewEstimator(&speedtest.Config{
		DownloadSources: []string{source.URL + "/payload.bin"},
		SourceTimeout:   5 * time.Second,
	})
	prober := speedtest.NewLatencyProberWithProbe(
		&speedtest.LatencyConfig{Targets: []string{"resolver-a", "resolver-b", "resolver-c"}, PingCount: 1, TargetTimeout: time.Second},
		func(ctx context.Context, target string) (time.Duration, error) {
			switch target {
			case "resolver-a":
				return 30 * time.Millisecond, nil
			case "resolver-b":
				return 10 * time.Millisecond, nil
			default:
				return 20 * time.Millisecond, nil
			}
		},
	)

	srv := New(DefaultConfig(), collector.New(provider, nil), est, prober)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	})
	return srv
}

func postRPC(t *testing.T, mcpURL, method string, params interface{}) *types.JSONRPCResponse {
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

	resp := postRPC(t, mcpURL, "tools/call", types.ToolsCallParams{Name: name})
	if resp.Error != nil {
		t.Fatalf("tools/call returned protocol error: %s", resp.Error.Message)
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
	if result.Content[0].Type != "text" {
		t.Fatalf("expected text content, got %q", result.Content[0].Type)
	}
	return result.Content[0].Text
}

func TestInitializeAssignsSession(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"` + mcp.DefaultProtocolVersion + `","capabilities":{},"clientInfo":{"name":"test-client","version":"1.0.0"}}}`
	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("initialize request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Mcp-Session-Id"); got == "" {
		t.Error("expected Mcp-Session-Id header on initialize response")
	}

	data, _ := io.ReadAll(resp.Body)
	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if rpcResp.Error != nil {
		t.Fatalf("initialize failed: %s", rpcResp.Error.Message)
	}

	var result types.InitializeResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	if result.ProtocolVersion != mcp.DefaultProtocolVersion {
		t.Errorf("expected protocol version %q, got %q", mcp.DefaultProtocolVersion, result.ProtocolVersion)
	}
	if result.ServerInfo.Name != mcp.ServerName {
		t.Errorf("expected server name %q, got %q", mcp.ServerName, result.ServerInfo.Name)
	}
	if _, ok := result.Capabilities["tools"]; !ok {
		t.Error("expected tools capability")
	}
	if _, ok := result.Capabilities["resources"]; !ok {
		t.Error("expected resources capability")
	}
}

func TestInitializeNegotiatesUnsupportedVersion(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "initialize", types.InitializeParams{ProtocolVersion: "1999-01-01"})
	if resp.Error != nil {
		t.Fatalf("initialize failed: %s", resp.Error.Message)
	}
	var result types.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal initialize result: %v", err)
	}
	if result.ProtocolVersion != mcp.DefaultProtocolVersion {
		t.Errorf("expected fallback to %q, got %q", mcp.DefaultProtocolVersion, result.ProtocolVersion)
	}
}

func TestPing(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping failed: %s", resp.Error.Message)
	}
	if string(resp.Result) != "{}" {
		t.Errorf("expected empty object result, got %s", resp.Result)
	}
}

func TestNotificationsInitializedAccepted(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("notification request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", resp.StatusCode)
	}
}

func TestToolsListCatalog(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("tools/list failed: %s", resp.Error.Message)
	}

	var result types.ToolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal tools list: %v", err)
	}

	expected := []string{
		"get_cpu_usage", "get_memory_usage", "get_disk_space",
		"get_network_usage", "get_battery_status",
		"get_internet_speed", "get_internet_latency",
	}
	if len(result.Tools) != len(expected) {
		t.Fatalf("expected %d tools, got %d", len(expected), len(result.Tools))
	}

	byName := make(map[string]types.Tool)
	for _, tool := range result.Tools {
		byName[tool.Name] = tool
	}
	for _, name := range expected {
		tool, ok := byName[name]
		if !ok {
			t.Errorf("expected tool %q in catalog", name)
			continue
		}
		if tool.Annotations == nil || !tool.Annotations.ReadOnlyHint {
			t.Errorf("expected tool %q to be annotated read-only", name)
		}
		if len(tool.InputSchema) == 0 {
			t.Errorf("expected tool %q to carry an input schema", name)
		}
	}
}

func TestToolCPUUsage(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_cpu_usage")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "CPU Load: 12.85% (Cores: 10.50, 15.20%)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolMemoryUsage(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_memory_usage")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "Memory Usage: 50.00% (Used: 8.00 GB / Total: 16.00 GB, Free: 8.00 GB)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolDiskSpace(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_disk_space")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "Disk Usage (/): 75.00% (Used: 750.00 GB / Total: 1000.00 GB, Free: 250.00 GB)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolNetworkUsage(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_network_usage")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "Network (eth0): RX 1.00 GB (2.50 MB/s), TX 0.50 GB (1.10 MB/s)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolBatteryCharging(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_battery_status")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "Battery: 85.00% (charging)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolBatteryAbsent(t *testing.T) {
	provider := happyProvider()
	provider.bats = nil
	srv := newTestServer(t, provider)

	result := callTool(t, srv.MCPURL(), "get_battery_status")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "No battery detected" {
		t.Errorf("expected %q, got %q", "No battery detected", got)
	}
}

func TestToolInternetSpeed(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_internet_speed")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	got := toolText(t, result)
	if !strings.HasPrefix(got, "Internet Speed: ") || !strings.Contains(got, "Mbps down") {
		t.Errorf("unexpected speed line: %q", got)
	}
	if strings.Contains(got, "Mbps up") {
		t.Errorf("expected no upload clause without upload targets, got %q", got)
	}
}

func TestToolInternetLatency(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_internet_latency")
	if result.IsError {
		t.Fatalf("expected success, got error: %s", toolText(t, result))
	}
	want := "Internet Latency: 20.00 ms (3/3 targets)"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolCollectionFailureIsErrorResult(t *testing.T) {
	provider := happyProvider()
	provider.memErr = errors.New("vm read failed")
	srv := newTestServer(t, provider)

	resp := postRPC(t, srv.MCPURL(), "tools/call", types.ToolsCallParams{Name: "get_memory_usage"})
	if resp.Error != nil {
		t.Fatalf("collection failure must not become a protocol error: %s", resp.Error.Message)
	}

	var result types.ToolsCallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal tool result: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected isError result")
	}
	want := "failed to collect memory: vm read failed"
	if got := toolText(t, result); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestToolUnknownName(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_gpu_usage")
	if !result.IsError {
		t.Fatal("expected isError result for unknown tool")
	}
	if got := toolText(t, result); !strings.Contains(got, "unknown tool") {
		t.Errorf("expected unknown tool message, got %q", got)
	}
}

func TestToolsCallInvalidParams(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":"not an object"}`
	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	var result types.ToolsCallResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal tool result: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected isError result for invalid params")
	}
}

func TestResourcesList(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "resources/list", nil)
	if resp.Error != nil {
		t.Fatalf("resources/list failed: %s", resp.Error.Message)
	}

	var result types.ResourcesListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal resources list: %v", err)
	}
	if len(result.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(result.Resources))
	}
	if result.Resources[0].URI != "system://snapshot" {
		t.Errorf("expected snapshot URI, got %q", result.Resources[0].URI)
	}
	if result.Resources[0].MimeType != "text/plain" {
		t.Errorf("expected text/plain, got %q", result.Resources[0].MimeType)
	}
}

func TestResourcesReadSnapshot(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "resources/read", types.ResourcesReadParams{URI: "system://snapshot"})
	if resp.Error != nil {
		t.Fatalf("resources/read failed: %s", resp.Error.Message)
	}

	var result types.ResourcesReadResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal read result: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(result.Contents))
	}

	text := result.Contents[0].Text
	if !strings.HasPrefix(text, "System Snapshot (") {
		t.Errorf("expected snapshot header, got %q", text)
	}
	for _, want := range []string{
		"- CPU Load: 12.85%",
		"- Memory Usage: 50.00%",
		"- Disk Usage (/): 75.00%",
		"- Network (eth0):",
		"- Battery: 85.00% (charging)",
		"- Internet Speed:",
		"- Internet Latency: 20.00 ms (3/3 targets)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected snapshot to contain %q, got:\n%s", want, text)
		}
	}
}

func TestResourcesReadSnapshotFailedMetric(t *testing.T) {
	provider := happyProvider()
	provider.partsErr = errors.New("statfs denied")
	srv := newTestServer(t, provider)

	resp := postRPC(t, srv.MCPURL(), "resources/read", types.ResourcesReadParams{URI: "system://snapshot"})
	if resp.Error != nil {
		t.Fatalf("resources/read failed: %s", resp.Error.Message)
	}

	var result types.ResourcesReadResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal read result: %v", err)
	}
	text := result.Contents[0].Text
	if !strings.Contains(text, "- disk unavailable: statfs denied") {
		t.Errorf("expected disk unavailable line, got:\n%s", text)
	}
	if !strings.Contains(text, "- CPU Load:") {
		t.Errorf("expected healthy metrics to survive a failed one, got:\n%s", text)
	}
}

func TestResourcesReadUnknownURI(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "resources/read", types.ResourcesReadParams{URI: "system://nope"})
	if resp.Error == nil {
		t.Fatal("expected protocol error for unknown resource")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("expected code -32602, got %d", resp.Error.Code)
	}
}

func TestResourcesReadMissingURI(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "resources/read", map[string]interface{}{})
	if resp.Error == nil {
		t.Fatal("expected protocol error for missing uri")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("expected code -32602, got %d", resp.Error.Code)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp := postRPC(t, srv.MCPURL(), "prompts/list", nil)
	if resp.Error == nil {
		t.Fatal("expected method not found error")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("expected code -32601, got %d", resp.Error.Code)
	}
}

func TestInvalidJSONRPCVersion(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	body := `{"jsonrpc":"1.0","id":1,"method":"ping"}`
	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != -32600 {
		t.Fatalf("expected -32600, got %+v", rpcResp.Error)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	var rpcResp types.JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if rpcResp.Error == nil || rpcResp.Error.Code != -32700 {
		t.Fatalf("expected -32700, got %+v", rpcResp.Error)
	}
}

func TestMCPMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	req, err := http.NewRequest(http.MethodPut, srv.MCPURL(), nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", resp.StatusCode)
	}
}

func TestSessionDelete(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"` + mcp.DefaultProtocolVersion + `"}}`
	initResp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("initialize request failed: %v", err)
	}
	io.Copy(io.Discard, initResp.Body)
	initResp.Body.Close()

	sessionID := initResp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("expected session id from initialize")
	}

	req, err := http.NewRequest(http.MethodDelete, srv.MCPURL(), nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Mcp-Session-Id", sessionID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", resp.StatusCode)
	}

	// Without a session header the delete is rejected.
	req, err = http.NewRequest(http.MethodDelete, srv.MCPURL(), nil)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", resp.StatusCode)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp, err := http.Get(srv.SnapshotURL())
	if err != nil {
		t.Fatalf("snapshot request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	if !strings.HasPrefix(string(data), "System Snapshot (") {
		t.Errorf("expected snapshot digest, got %q", data)
	}

	postResp, err := http.Post(srv.SnapshotURL(), "text/plain", nil)
	if err != nil {
		t.Fatalf("post request failed: %v", err)
	}
	postResp.Body.Close()
	if postResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405 for POST, got %d", postResp.StatusCode)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `"status":"ok"`) {
		t.Errorf("unexpected healthz body: %s", data)
	}
}

func TestMetricsEndpointAfterToolCall(t *testing.T) {
	srv := newTestServer(t, happyProvider())

	result := callTool(t, srv.MCPURL(), "get_cpu_usage")
	if result.IsError {
		t.Fatalf("tool call failed: %s", toolText(t, result))
	}

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "version=0.0.4") {
		t.Errorf("expected exposition content type, got %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	body := string(data)
	if !strings.Contains(body, `sysprobe_tool_calls_total{tool="get_cpu_usage"} 1`) {
		t.Errorf("expected tool call counter in metrics, got:\n%s", body)
	}
}

func TestAPIKeyAuthProtectsMCP(t *testing.T) {
	provider := happyProvider()

	payload := bytes.Repeat([]byte("x"), 64<<10)
	source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer source.Close()

	est := speedtest.NewEstimator(&speedtest.Config{
		DownloadSources: []string{source.URL + "/payload.bin"},
		SourceTimeout:   5 * time.Second,
	})
	prober := speedtest.NewLatencyProberWithProbe(nil, func(ctx context.Context, target string) (time.Duration, error) {
		return 15 * time.Millisecond, nil
	})

	srv := New(DefaultConfig(), collector.New(provider, nil), est, prober)
	srv.SetAuthConfig(&auth.Config{Mode: auth.AuthModeAPIKey, APIKeys: []string{"test-key-1"}})
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	// Missing key is rejected.
	resp, err := http.Post(srv.MCPURL(), "application/json", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected status 401 without key, got %d", resp.StatusCode)
	}

	// A valid key passes.
	req, err := http.NewRequest(http.MethodPost, srv.MCPURL(), strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", "test-key-1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200 with key, got %d", resp.StatusCode)
	}

	// Liveness stays open.
	resp, err = http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected healthz to skip auth, got %d", resp.StatusCode)
	}
}

func TestStartTestServer(t *testing.T) {
	prober := speedtest.NewLatencyProberWithProbe(nil, func(ctx context.Context, target string) (time.Duration, error) {
		return 10 * time.Millisecond, nil
	})
	srv, cleanup := StartTestServer(collector.New(happyProvider(), nil), speedtest.NewEstimator(nil), prober)
	defer cleanup()

	if srv.Addr() == "" {
		t.Fatal("expected server to bind an address")
	}
	if !strings.HasSuffix(srv.MCPURL(), "/mcp") {
		t.Errorf("unexpected MCP URL: %q", srv.MCPURL())
	}
	if !strings.HasSuffix(srv.SnapshotURL(), "/snapshot") {
		t.Errorf("unexpected snapshot URL: %q", srv.SnapshotURL())
	}

	resp := postRPC(t, srv.MCPURL(), "ping", nil)
	if resp.Error != nil {
		t.Fatalf("ping failed: %s", resp.Error.Message)
	}
}

func TestNormalizeAddr(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "127.0.0.1:0"},
		{":8080", "127.0.0.1:8080"},
		{"127.0.0.1:0", "127.0.0.1:0"},
		{"0.0.0.0:9000", "0.0.0.0:9000"},
		{"localhost:3000", "localhost:3000"},
	}
	for _, tt := range tests {
		if got := normalizeAddr(tt.in); got != tt.want {
			t.Errorf("normalizeAddr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestURLsEmptyBeforeStart(t *testing.T) {
	srv := New(nil, collector.New(happyProvider(), nil), speedtest.NewEstimator(nil), speedtest.NewLatencyProber(nil))
	if srv.MCPURL() != "" {
		t.Errorf("expected empty MCP URL before start, got %q", srv.MCPURL())
	}
	if srv.SnapshotURL() != "" {
		t.Errorf("expected empty snapshot URL before start, got %q", srv.SnapshotURL())
	}
}
