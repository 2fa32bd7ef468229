package config

// Default configuration constants for the sysprobe server
const (
	DefaultAddr = "127.0.0.1:8080"

	DefaultCPUSampleMs = 500
	DefaultNetSampleMs = 500

	DefaultSourceTimeoutMs = 30000
	DefaultUploadBytes     = 4 << 20

	DefaultPingCount       = 3
	DefaultTargetTimeoutMs = 5000

	DefaultShutdownTimeoutMs = 10000
)
