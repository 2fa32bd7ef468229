package mcp

import "slices"

const (
	DefaultProtocolVersion = "2025-11-25"
	ServerName             = "sysprobe"
	ServerVersion          = "1.0.0"
)

var SupportedProtocolVersions = []string{
	"2025-11-25",
	"2025-03-26",
	"2024-11-05",
}

func IsSupported(version string) bool {
	return slices.Contains(SupportedProtocolVersions, version)
}

// Negotiate picks the protocol version for a session: the requested
// version when the server supports it, otherwise the server default.
// Initialization never fails on version grounds; clients that cannot
// speak the returned version are expected to disconnect.
func Negotiate(requested string) string {
	if requested != "" && IsSupported(requested) {
		return requested
	}
	return DefaultProtocolVersion
}
