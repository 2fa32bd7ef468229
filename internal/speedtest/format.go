package speedtest

import "fmt"

// FormatSpeed renders a Result as a single line:
//
//	Internet Speed: 94.25 Mbps down / 10.50 Mbps up
//	Internet Speed: 94.25 Mbps down
//
// The upload clause appears only when upload was measured.
func FormatSpeed(r *Result) string {
	if r.UploadMbps != nil {
		return fmt.Sprintf("Internet Speed: %.2f Mbps down / %.2f Mbps up", r.DownloadMbps, *r.UploadMbps)
	}
	return fmt.Sprintf("Internet Speed: %.2f Mbps down", r.DownloadMbps)
}

// FormatLatency renders a LatencyResult as a single line:
//
//	Internet Latency: 23.50 ms (3/4 targets)
func FormatLatency(r *LatencyResult) string {
	reachable := 0
	for _, t := range r.Targets {
		if t.OK {
			reachable++
		}
	}
	return fmt.Sprintf("Internet Latency: %.2f ms (%d/%d targets)", r.MedianRttMs, reachable, len(r.Targets))
}
