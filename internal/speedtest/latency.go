package speedtest

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/bc-dunia/sysprobe/internal/events"
)

// LatencyConfig holds latency probe settings.
type LatencyConfig struct {
	// Targets are hosts to ping, probed in order.
	Targets []string

	// PingCount is the number of echo requests per target.
	PingCount int

	// TargetTimeout bounds the probe of one target.
	TargetTimeout time.Duration
}

// DefaultLatencyConfig returns probe settings using public anycast
// resolvers as targets.
func DefaultLatencyConfig() *LatencyConfig {
	return &LatencyConfig{
		Targets:       []string{"1.1.1.1", "8.8.8.8", "9.9.9.9"},
		PingCount:     3,
		TargetTimeout: 5 * time.Second,
	}
}

// TargetResult is the outcome of probing one latency target.
type TargetResult struct {
	Target string
	RttMs  float64
	OK     bool
}

// LatencyResult is a completed latency measurement. MedianRttMs is the
// median over the reachable targets; Targets holds every probe outcome
// in probe order.
type LatencyResult struct {
	MedianRttMs float64
	Targets     []TargetResult
}

// LatencyProber measures round-trip latency to configured targets.
type LatencyProber struct {
	cfg   *LatencyConfig
	probe func(ctx context.Context, target string) (time.Duration, error)
}

// NewLatencyProber creates a LatencyProber using ICMP echo probes. A
// nil cfg uses DefaultLatencyConfig.
func NewLatencyProber(cfg *LatencyConfig) *LatencyProber {
	if cfg == nil {
		cfg = DefaultLatencyConfig()
	}
	p := &LatencyProber{cfg: cfg}
	p.probe = p.pingProbe
	return p
}

// NewLatencyProberWithProbe creates a LatencyProber that runs the given
// probe function instead of ICMP echo. Tests substitute deterministic
// probes through this.
func NewLatencyProberWithProbe(cfg *LatencyConfig, probe func(ctx context.Context, target string) (time.Duration, error)) *LatencyProber {
	p := NewLatencyProber(cfg)
	if probe != nil {
		p.probe = probe
	}
	return p
}

// MeasureLatency probes every target in order and returns the median
// round-trip time over the reachable ones. Unreachable targets are
// skipped; with no reachable target it returns a SpeedTestError.
func (p *LatencyProber) MeasureLatency(ctx context.Context) (*LatencyResult, error) {
	if len(p.cfg.Targets) == 0 {
		return nil, &SpeedTestError{Cause: fmt.Errorf("no latency targets configured")}
	}

	results := make([]TargetResult, 0, len(p.cfg.Targets))
	samples := make([]float64, 0, len(p.cfg.Targets))
	var lastErr error
	for _, target := range p.cfg.Targets {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		rtt, err := p.probe(ctx, target)
		res := TargetResult{Target: target}
		if err != nil {
			lastErr = err
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogLatencyTargetSkipped(target, err.Error())
			}
		} else {
			res.RttMs = float64(rtt) / float64(time.Millisecond)
			res.OK = true
			samples = append(samples, res.RttMs)
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogLatencyTarget(target, res.RttMs)
			}
		}
		results = append(results, res)
	}

	if len(samples) == 0 {
		cause := fmt.Errorf("all %d latency targets unreachable", len(p.cfg.Targets))
		if lastErr != nil {
			cause = fmt.Errorf("all %d latency targets unreachable, last error: %w", len(p.cfg.Targets), lastErr)
		}
		return nil, &SpeedTestError{Cause: cause}
	}

	return &LatencyResult{
		MedianRttMs: round2(median(samples)),
		Targets:     results,
	}, nil
}

// pingProbe sends unprivileged ICMP echo requests to one target and
// returns the average round-trip time.
func (p *LatencyProber) pingProbe(ctx context.Context, target string) (time.Duration, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return 0, err
	}
	pinger.SetPrivileged(false)
	pinger.Count = p.pingCount()
	pinger.Timeout = p.targetTimeout()

	if err := pinger.RunWithContext(ctx); err != nil {
		return 0, err
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("no echo reply from %s", target)
	}
	return stats.AvgRtt, nil
}

func (p *LatencyProber) pingCount() int {
	if p.cfg.PingCount > 0 {
		return p.cfg.PingCount
	}
	return 3
}

func (p *LatencyProber) targetTimeout() time.Duration {
	if p.cfg.TargetTimeout > 0 {
		return p.cfg.TargetTimeout
	}
	return 5 * time.Second
}
