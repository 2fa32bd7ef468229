package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bc-dunia/sysprobe/internal/auth"
	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/config"
	"github.com/bc-dunia/sysprobe/internal/events"
	"github.com/bc-dunia/sysprobe/internal/metrics"
	"github.com/bc-dunia/sysprobe/internal/otel"
	"github.com/bc-dunia/sysprobe/internal/server"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
	"github.com/bc-dunia/sysprobe/internal/sysinfo"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	authMode := flag.String("auth-mode", "", "Authentication mode: none, api_key (overrides config)")
	apiKeys := flag.String("api-keys", "", "Comma-separated API keys (for api_key mode)")
	insecure := flag.Bool("insecure", false, "Allow serving without auth on a non-loopback address")
	tracesExporter := flag.String("traces-exporter", "", "Traces exporter: none, stdout, otlp-grpc, otlp-http")
	metricsExporter := flag.String("metrics-exporter", "", "Metrics exporter: none, stdout, otlp-grpc, otlp-http")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP collector endpoint")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *authMode != "" {
		cfg.Auth.Mode = *authMode
	}
	if *apiKeys != "" {
		keys := strings.Split(*apiKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		cfg.Auth.APIKeys = keys
	}
	if *tracesExporter != "" {
		cfg.Telemetry.TracesExporter = *tracesExporter
	}
	if *metricsExporter != "" {
		cfg.Telemetry.MetricsExporter = *metricsExporter
	}
	if *otlpEndpoint != "" {
		cfg.Telemetry.OTLPEndpoint = *otlpEndpoint
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if strings.EqualFold(cfg.Auth.Mode, string(auth.AuthModeNone)) && !isLoopback(cfg.Server.Addr) && !*insecure {
		fmt.Fprintln(os.Stderr, "Refusing to serve on a non-loopback address with auth disabled; pass --insecure to override")
		os.Exit(1)
	}

	ctx := context.Background()

	tracer, err := otel.NewTracer(ctx, cfg.BuildTracerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing tracer: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalTracer(tracer)

	otelMetrics, err := otel.NewMetrics(ctx, cfg.BuildMetricsConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing metrics: %v\n", err)
		os.Exit(1)
	}
	otel.SetGlobalMetrics(otelMetrics)

	hostname, _ := os.Hostname()
	logger := events.NewEventLogger("sysprobe", hostname)
	events.SetGlobalEventLogger(logger)

	provider := sysinfo.NewProvider()
	col := collector.New(provider, cfg.BuildCollectorConfig())
	est := speedtest.NewEstimator(cfg.BuildSpeedTestConfig())
	prober := speedtest.NewLatencyProber(cfg.BuildLatencyConfig())

	srv := server.New(&server.Config{Addr: cfg.Server.Addr}, col, est, prober)
	srv.SetEventLogger(logger)
	srv.SetMetricsCollector(metrics.NewCollector())
	srv.SetTracer(tracer)
	srv.SetOtelMetrics(otelMetrics)
	srv.SetAuthConfig(cfg.BuildAuthConfig())

	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting server: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("sysprobe MCP server listening on %s\n", srv.MCPURL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeoutMs*time.Millisecond)
	defer cancel()

	srv.Stop(shutdownCtx)
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down tracer: %v\n", err)
	}
	if err := otelMetrics.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Error shutting down metrics: %v\n", err)
	}
	fmt.Println("Server stopped")
}

// isLoopback reports whether addr binds a loopback interface. Empty
// hosts (":8080") bind every interface and are not loopback.
func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
