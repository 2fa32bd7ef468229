// Package server implements the sysprobe MCP server: JSON-RPC 2.0 over
// HTTP POST /mcp, plus plain HTTP handlers for the snapshot digest,
// liveness, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bc-dunia/sysprobe/internal/auth"
	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/events"
	"github.com/bc-dunia/sysprobe/internal/mcp"
	"github.com/bc-dunia/sysprobe/internal/metrics"
	"github.com/bc-dunia/sysprobe/internal/otel"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
	"github.com/bc-dunia/sysprobe/internal/types"
)

const (
	sessionHeader = "Mcp-Session-Id"
	snapshotURI   = "system://snapshot"

	// Sessions are advisory; the cap keeps abandoned handshakes from
	// growing the map without bound.
	maxSessions = 4096
)

// Config configures the server.
type Config struct {
	Addr string
}

func DefaultConfig() *Config {
	return &Config{
		Addr: "127.0.0.1:0",
	}
}

// Server serves host telemetry over MCP. Construct it with New, wire
// optional ambient dependencies through the setters, then Start.
type Server struct {
	cfg        *Config
	collectors *collector.Collector
	estimator  *speedtest.Estimator
	prober     *speedtest.LatencyProber

	logger      *events.EventLogger
	metrics     *metrics.Collector
	tracer      *otel.Tracer
	otelMetrics *otel.Metrics
	authConfig  *auth.Config

	httpServer *http.Server
	listener   net.Listener
	addr       string

	mu       sync.Mutex
	sessions map[string]string
}

// New creates a server over the given collectors and probes. Ambient
// dependencies default to no-ops so tests and the one-shot CLI can run
// without telemetry plumbing.
func New(cfg *Config, col *collector.Collector, est *speedtest.Estimator, prober *speedtest.LatencyProber) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Server{
		cfg:         cfg,
		collectors:  col,
		estimator:   est,
		prober:      prober,
		logger:      events.NoopEventLogger(),
		metrics:     metrics.NewCollector(),
		tracer:      otel.NoopTracer(),
		otelMetrics: otel.NoopMetrics(),
		authConfig:  auth.DefaultConfig(),
		sessions:    make(map[string]string),
	}
}

// SetEventLogger replaces the no-op event logger. Call before Start.
func (s *Server) SetEventLogger(l *events.EventLogger) {
	if l != nil {
		s.logger = l
	}
}

// SetMetricsCollector replaces the metrics collector. Call before Start.
func (s *Server) SetMetricsCollector(c *metrics.Collector) {
	if c != nil {
		s.metrics = c
	}
}

// SetTracer replaces the no-op tracer. Call before Start.
func (s *Server) SetTracer(t *otel.Tracer) {
	if t != nil {
		s.tracer = t
	}
}

// SetOtelMetrics replaces the no-op OTel metrics. Call before Start.
func (s *Server) SetOtelMetrics(m *otel.Metrics) {
	if m != nil {
		s.otelMetrics = m
	}
}

// SetAuthConfig replaces the default (disabled) auth config. Call
// before Start.
func (s *Server) SetAuthConfig(c *auth.Config) {
	if c != nil {
		s.authConfig = c
	}
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	if s.cfg == nil {
		s.cfg = DefaultConfig()
	}

	listenAddr := normalizeAddr(s.cfg.Addr)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/snapshot", s.handleSnapshot)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)

	var authenticator auth.Authenticator
	if s.authConfig.Mode == auth.AuthModeAPIKey {
		authenticator = auth.NewAPIKeyAuthenticator(s.authConfig)
	}
	var handler http.Handler = auth.NewMiddleware(s.authConfig, authenticator).Handler(mux)
	handler = otel.Middleware(s.tracer, s.otelMetrics)(handler)

	s.httpServer = &http.Server{
		Handler: handler,
	}

	go func() {
		_ = s.httpServer.Serve(ln)
	}()

	s.logger.LogServerStarted(s.addr)
	return nil
}

// Stop shuts the server down, waiting for in-flight requests until the
// context expires.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	_ = s.httpServer.Shutdown(ctx)
	s.logger.LogServerStopped()
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	return s.addr
}

// MCPURL returns the full URL of the MCP endpoint.
func (s *Server) MCPURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/mcp"
}

// SnapshotURL returns the full URL of the plain snapshot endpoint.
func (s *Server) SnapshotURL() string {
	if s.addr == "" {
		return ""
	}
	return "http://" + s.addr + "/snapshot"
}

// StartTestServer starts a server on an ephemeral loopback port and
// returns it with a cleanup function.
func StartTestServer(col *collector.Collector, est *speedtest.Estimator, prober *speedtest.LatencyProber) (server *Server, cleanup func()) {
	srv := New(DefaultConfig(), col, est, prober)
	if err := srv.Start(); err != nil {
		return srv, func() {}
	}
	cleanup = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}
	return srv, cleanup
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodDelete:
		s.endSession(w, r)
		return
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeJSONRPCError(w, nil, -32700, "failed to read body")
		return
	}

	var req types.JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONRPCError(w, nil, -32700, "invalid json")
		return
	}

	if req.JSONRPC != "2.0" {
		writeJSONRPCError(w, req.ID, -32600, "invalid jsonrpc version")
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "ping":
		writeJSONRPCResult(w, req.ID, map[string]interface{}{})
	case "tools/list":
		writeJSONRPCResult(w, req.ID, types.ToolsListResult{Tools: toolCatalog()})
	case "tools/call":
		s.handleToolsCall(w, r, req)
	case "resources/list":
		writeJSONRPCResult(w, req.ID, resourceCatalog())
	case "resources/read":
		s.handleResourcesRead(w, r, req)
	default:
		writeJSONRPCError(w, req.ID, -32601, "method not found")
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, req types.JSONRPCRequest) {
	var params types.InitializeParams
	if req.Params != nil {
		_ = json.Unmarshal(req.Params, &params)
	}
	version := mcp.Negotiate(params.ProtocolVersion)

	sessionID := uuid.NewString()
	s.mu.Lock()
	if len(s.sessions) >= maxSessions {
		for id := range s.sessions {
			delete(s.sessions, id)
			break
		}
	}
	s.sessions[sessionID] = version
	s.mu.Unlock()

	s.logger.LogSessionStarted(sessionID, version)
	s.metrics.RecordSession()

	result := types.InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]interface{}{
			"tools":     map[string]interface{}{},
			"resources": map[string]interface{}{},
		},
		ServerInfo: types.ServerInfo{
			Name:    mcp.ServerName,
			Version: mcp.ServerVersion,
		},
		Instructions: "Read-only host telemetry. Every tool takes no arguments and returns a single line of text; read system://snapshot for the full digest.",
	}
	w.Header().Set(sessionHeader, sessionID)
	writeJSONRPCResult(w, req.ID, result)
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCResult(w, req.ID, toolErrorResult("invalid params"))
		return
	}

	ctx, span := s.tracer.StartToolSpan(r.Context(), otel.ToolSpanOptions{
		Operation: "tools/call",
		ToolName:  params.Name,
		SessionID: r.Header.Get(sessionHeader),
	})
	defer span.End()

	start := time.Now()
	result, known := s.executeTool(ctx, params.Name)
	if !known {
		writeJSONRPCResult(w, req.ID, toolErrorResult(fmt.Sprintf("unknown tool: %s", params.Name)))
		return
	}

	elapsed := time.Since(start)
	ok := !result.IsError
	s.logger.LogToolCall(params.Name, elapsed.Milliseconds(), ok)
	s.metrics.RecordToolCall(params.Name, elapsed.Milliseconds(), ok)
	s.otelMetrics.RecordToolLatency(ctx, params.Name, float64(elapsed.Microseconds())/1000.0, ok)

	writeJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleResourcesRead(w http.ResponseWriter, r *http.Request, req types.JSONRPCRequest) {
	var params types.ResourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeJSONRPCError(w, req.ID, -32602, "invalid params")
		return
	}

	if params.URI == "" {
		writeJSONRPCError(w, req.ID, -32602, "missing uri parameter")
		return
	}
	if params.URI != snapshotURI {
		writeJSONRPCError(w, req.ID, -32602, fmt.Sprintf("unknown resource: %s", params.URI))
		return
	}

	result := types.ResourcesReadResult{
		Contents: []types.ResourceContent{
			{
				URI:      snapshotURI,
				MimeType: "text/plain",
				Text:     s.snapshotText(r.Context()),
			},
		},
	}
	writeJSONRPCResult(w, req.ID, result)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, s.snapshotText(r.Context()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"status":"ok"}`+"\n")
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_, _ = io.WriteString(w, s.metrics.Expose())
}

func writeJSONRPCResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := types.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
	}
	payload, _ := json.Marshal(result)
	resp.Result = payload

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSONRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := types.JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &types.JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func toolErrorResult(msg string) types.ToolsCallResult {
	return types.ToolsCallResult{
		Content: []types.ToolContent{{Type: "text", Text: msg}},
		IsError: true,
	}
}

func textResult(text string) types.ToolsCallResult {
	return types.ToolsCallResult{
		Content: []types.ToolContent{{Type: "text", Text: text}},
	}
}

func normalizeAddr(addr string) string {
	if addr == "" {
		return "127.0.0.1:0"
	}
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return "127.0.0.1:" + port
	}
	return addr
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
