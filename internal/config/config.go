// Package config loads and validates sysprobe server configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then SYSPROBE_* environment variables. A .env file in the working
// directory is honored before the environment is read.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/bc-dunia/sysprobe/internal/auth"
	"github.com/bc-dunia/sysprobe/internal/collector"
	"github.com/bc-dunia/sysprobe/internal/mcp"
	"github.com/bc-dunia/sysprobe/internal/otel"
	"github.com/bc-dunia/sysprobe/internal/speedtest"
)

// Config is the root configuration for the sysprobe server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	SpeedTest SpeedTestConfig `yaml:"speedtest"`
	Latency   LatencyConfig   `yaml:"latency"`
	Auth      AuthConfig      `yaml:"auth"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// CollectorConfig holds sampling intervals for rate-based collectors.
type CollectorConfig struct {
	CPUSampleMs int `yaml:"cpu_sample_ms"`
	NetSampleMs int `yaml:"net_sample_ms"`
}

// SpeedTestConfig holds download/upload measurement settings.
type SpeedTestConfig struct {
	DownloadSources []string `yaml:"download_sources"`
	UploadTargets   []string `yaml:"upload_targets"`
	SourceTimeoutMs int      `yaml:"source_timeout_ms"`
	UploadBytes     int      `yaml:"upload_bytes"`
}

// LatencyConfig holds ICMP latency measurement settings.
type LatencyConfig struct {
	Targets         []string `yaml:"targets"`
	PingCount       int      `yaml:"ping_count"`
	TargetTimeoutMs int      `yaml:"target_timeout_ms"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	Mode    string   `yaml:"mode"`
	APIKeys []string `yaml:"api_keys"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	TracesExporter  string `yaml:"traces_exporter"`
	MetricsExporter string `yaml:"metrics_exporter"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	OTLPInsecure    bool   `yaml:"otlp_insecure"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
		Collector: CollectorConfig{
			CPUSampleMs: DefaultCPUSampleMs,
			NetSampleMs: DefaultNetSampleMs,
		},
		SpeedTest: SpeedTestConfig{
			DownloadSources: speedtest.DefaultConfig().DownloadSources,
			SourceTimeoutMs: DefaultSourceTimeoutMs,
			UploadBytes:     DefaultUploadBytes,
		},
		Latency: LatencyConfig{
			Targets:         speedtest.DefaultLatencyConfig().Targets,
			PingCount:       DefaultPingCount,
			TargetTimeoutMs: DefaultTargetTimeoutMs,
		},
		Auth: AuthConfig{
			Mode: string(auth.AuthModeNone),
		},
		Telemetry: TelemetryConfig{
			TracesExporter:  string(otel.ExporterNone),
			MetricsExporter: string(otel.ExporterNone),
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file at
// path (empty path skips the file), and SYSPROBE_* environment variables.
func Load(path string) (*Config, error) {
	// Optional .env file; fall back to the process environment.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SYSPROBE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SYSPROBE_AUTH_MODE"); v != "" {
		cfg.Auth.Mode = v
	}
	if v := os.Getenv("SYSPROBE_API_KEYS"); v != "" {
		cfg.Auth.APIKeys = splitList(v)
	}
	if v := os.Getenv("SYSPROBE_SPEEDTEST_SOURCES"); v != "" {
		cfg.SpeedTest.DownloadSources = splitList(v)
	}
	if v := os.Getenv("SYSPROBE_SPEEDTEST_UPLOAD_TARGETS"); v != "" {
		cfg.SpeedTest.UploadTargets = splitList(v)
	}
	if v := os.Getenv("SYSPROBE_LATENCY_TARGETS"); v != "" {
		cfg.Latency.Targets = splitList(v)
	}
	if v := os.Getenv("SYSPROBE_TRACES_EXPORTER"); v != "" {
		cfg.Telemetry.TracesExporter = v
	}
	if v := os.Getenv("SYSPROBE_METRICS_EXPORTER"); v != "" {
		cfg.Telemetry.MetricsExporter = v
	}
	if v := os.Getenv("SYSPROBE_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("SYSPROBE_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.OTLPInsecure = b
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Collector.CPUSampleMs < 0 {
		return fmt.Errorf("collector.cpu_sample_ms must not be negative")
	}
	if c.Collector.NetSampleMs < 0 {
		return fmt.Errorf("collector.net_sample_ms must not be negative")
	}
	if c.SpeedTest.SourceTimeoutMs <= 0 {
		return fmt.Errorf("speedtest.source_timeout_ms must be positive")
	}
	if c.SpeedTest.UploadBytes <= 0 {
		return fmt.Errorf("speedtest.upload_bytes must be positive")
	}
	if c.Latency.PingCount < 1 {
		return fmt.Errorf("latency.ping_count must be at least 1")
	}
	if c.Latency.TargetTimeoutMs <= 0 {
		return fmt.Errorf("latency.target_timeout_ms must be positive")
	}

	switch auth.AuthMode(c.Auth.Mode) {
	case auth.AuthModeNone:
	case auth.AuthModeAPIKey:
		if len(c.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth.api_keys must not be empty in api_key mode")
		}
	default:
		return fmt.Errorf("unknown auth.mode %q", c.Auth.Mode)
	}

	if !validExporter(c.Telemetry.TracesExporter) {
		return fmt.Errorf("unknown telemetry.traces_exporter %q", c.Telemetry.TracesExporter)
	}
	if !validExporter(c.Telemetry.MetricsExporter) {
		return fmt.Errorf("unknown telemetry.metrics_exporter %q", c.Telemetry.MetricsExporter)
	}

	return nil
}

func validExporter(name string) bool {
	switch otel.ExporterType(name) {
	case otel.ExporterNone, otel.ExporterStdout, otel.ExporterOTLPGRPC, otel.ExporterOTLPHTTP:
		return true
	}
	return name == ""
}

// BuildCollectorConfig converts the collector section.
func (c *Config) BuildCollectorConfig() *collector.Config {
	return &collector.Config{
		CPUSampleInterval: time.Duration(c.Collector.CPUSampleMs) * time.Millisecond,
		NetSampleInterval: time.Duration(c.Collector.NetSampleMs) * time.Millisecond,
	}
}

// BuildSpeedTestConfig converts the speedtest section.
func (c *Config) BuildSpeedTestConfig() *speedtest.Config {
	return &speedtest.Config{
		DownloadSources: c.SpeedTest.DownloadSources,
		UploadTargets:   c.SpeedTest.UploadTargets,
		SourceTimeout:   time.Duration(c.SpeedTest.SourceTimeoutMs) * time.Millisecond,
		UploadBytes:     c.SpeedTest.UploadBytes,
	}
}

// BuildLatencyConfig converts the latency section.
func (c *Config) BuildLatencyConfig() *speedtest.LatencyConfig {
	return &speedtest.LatencyConfig{
		Targets:       c.Latency.Targets,
		PingCount:     c.Latency.PingCount,
		TargetTimeout: time.Duration(c.Latency.TargetTimeoutMs) * time.Millisecond,
	}
}

// BuildAuthConfig converts the auth section.
func (c *Config) BuildAuthConfig() *auth.Config {
	return &auth.Config{
		Mode:      auth.AuthMode(c.Auth.Mode),
		APIKeys:   c.Auth.APIKeys,
		SkipPaths: []string{"/healthz", "/readyz"},
	}
}

// BuildTracerConfig converts the telemetry section for the trace pipeline.
func (c *Config) BuildTracerConfig() *otel.Config {
	exporter := exporterType(c.Telemetry.TracesExporter)
	return &otel.Config{
		Enabled:        exporter != otel.ExporterNone,
		ServiceName:    mcp.ServerName,
		ServiceVersion: mcp.ServerVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInsecure:   c.Telemetry.OTLPInsecure,
		SampleRate:     1.0,
	}
}

// BuildMetricsConfig converts the telemetry section for the metrics pipeline.
func (c *Config) BuildMetricsConfig() *otel.MetricsConfig {
	exporter := exporterType(c.Telemetry.MetricsExporter)
	return &otel.MetricsConfig{
		Enabled:        exporter != otel.ExporterNone,
		ServiceName:    mcp.ServerName,
		ServiceVersion: mcp.ServerVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		OTLPInsecure:   c.Telemetry.OTLPInsecure,
	}
}

func exporterType(name string) otel.ExporterType {
	if name == "" {
		return otel.ExporterNone
	}
	return otel.ExporterType(name)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
