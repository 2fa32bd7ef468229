// Package speedtest measures internet throughput and latency.
//
// The Estimator downloads well-known test payloads from several
// independent sources in sequence, converts each transfer into a
// megabit-per-second sample, and reports the median so one slow or
// unreachable source cannot skew the estimate. Every source is bounded
// by its own timeout; a source that stalls is skipped, not waited on.
package speedtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bc-dunia/sysprobe/internal/events"
)

// Metric names used in errors, log events, and metric labels.
const (
	MetricSpeed   = "internet speed"
	MetricLatency = "internet latency"
)

// Config holds download and upload measurement settings.
type Config struct {
	// DownloadSources are URLs of fixed-size test payloads, each on a
	// different host. At least one source must succeed for a result.
	DownloadSources []string

	// UploadTargets are optional URLs accepting POSTed payloads. Empty
	// means upload is not measured.
	UploadTargets []string

	// SourceTimeout bounds each individual transfer. A source that does
	// not finish in time counts as failed.
	SourceTimeout time.Duration

	// UploadBytes is the size of the generated upload payload.
	UploadBytes int
}

// DefaultConfig returns measurement settings with public test sources.
func DefaultConfig() *Config {
	return &Config{
		DownloadSources: []string{
			"http://ipv4.download.thinkbroadband.com/10MB.zip",
			"http://speedtest.tele2.net/10MB.zip",
			"https://proof.ovh.net/files/10Mb.dat",
		},
		SourceTimeout: 30 * time.Second,
		UploadBytes:   4 << 20,
	}
}

// Result is a completed throughput measurement. UploadMbps is nil when
// no upload target was configured or none succeeded.
type Result struct {
	DownloadMbps    float64
	UploadMbps      *float64
	DownloadSamples int
	UploadSamples   int
}

// SpeedTestError reports a measurement that produced no usable result.
type SpeedTestError struct {
	Cause error
}

func (e *SpeedTestError) Error() string {
	return fmt.Sprintf("speed test failed: %v", e.Cause)
}

func (e *SpeedTestError) Unwrap() error {
	return e.Cause
}

// Estimator measures internet throughput against configured sources.
type Estimator struct {
	cfg    *Config
	client *http.Client
}

// NewEstimator creates an Estimator. A nil cfg uses DefaultConfig.
func NewEstimator(cfg *Config) *Estimator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	// Timeouts come from per-source request contexts, not the client.
	return &Estimator{cfg: cfg, client: &http.Client{}}
}

// Measure runs the full throughput measurement: every download source
// in order, then every upload target. Failed sources are skipped; the
// result is the median of the successful samples. With no successful
// download sample it returns a SpeedTestError.
func (e *Estimator) Measure(ctx context.Context) (*Result, error) {
	if len(e.cfg.DownloadSources) == 0 {
		return nil, &SpeedTestError{Cause: errors.New("no download sources configured")}
	}

	samples := make([]float64, 0, len(e.cfg.DownloadSources))
	var lastErr error
	for _, src := range e.cfg.DownloadSources {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		start := time.Now()
		mbps, err := e.measureDownload(ctx, src)
		if err != nil {
			lastErr = err
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogSpeedSourceSkipped(src, string(ClassifyFailure(err)), err.Error())
			}
			continue
		}
		if !finitePositive(mbps) {
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogSpeedSourceSkipped(src, "invalid_sample", fmt.Sprintf("sample %f discarded", mbps))
			}
			continue
		}
		samples = append(samples, mbps)
		if l := events.GetGlobalEventLogger(); l != nil {
			l.LogSpeedSource(src, mbps, time.Since(start).Milliseconds())
		}
	}

	if len(samples) == 0 {
		cause := fmt.Errorf("all %d download sources failed", len(e.cfg.DownloadSources))
		if lastErr != nil {
			cause = fmt.Errorf("all %d download sources failed, last error: %w", len(e.cfg.DownloadSources), lastErr)
		}
		return nil, &SpeedTestError{Cause: cause}
	}

	result := &Result{
		DownloadMbps:    round2(median(samples)),
		DownloadSamples: len(samples),
	}

	if up, n := e.measureUploads(ctx); n > 0 {
		v := round2(up)
		result.UploadMbps = &v
		result.UploadSamples = n
	}
	return result, nil
}

func (e *Estimator) measureDownload(ctx context.Context, source string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sourceTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cacheBustURL(source), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{URL: source, Status: resp.StatusCode}
	}

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return 0, err
	}
	return throughputMbps(n, time.Since(start)), nil
}

// measureUploads POSTs the generated payload to each upload target and
// returns the median sample with the sample count. Upload failures are
// skipped silently apart from log events; upload is best effort.
func (e *Estimator) measureUploads(ctx context.Context) (float64, int) {
	if len(e.cfg.UploadTargets) == 0 {
		return 0, 0
	}

	payload := bytes.Repeat([]byte{'u'}, e.uploadBytes())
	samples := make([]float64, 0, len(e.cfg.UploadTargets))
	for _, target := range e.cfg.UploadTargets {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		mbps, err := e.measureUpload(ctx, target, payload)
		if err != nil {
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogSpeedSourceSkipped(target, string(ClassifyFailure(err)), err.Error())
			}
			continue
		}
		if !finitePositive(mbps) {
			if l := events.GetGlobalEventLogger(); l != nil {
				l.LogSpeedSourceSkipped(target, "invalid_sample", fmt.Sprintf("sample %f discarded", mbps))
			}
			continue
		}
		samples = append(samples, mbps)
		if l := events.GetGlobalEventLogger(); l != nil {
			l.LogSpeedSource(target, mbps, time.Since(start).Milliseconds())
		}
	}
	if len(samples) == 0 {
		return 0, 0
	}
	return median(samples), len(samples)
}

func (e *Estimator) measureUpload(ctx context.Context, target string, payload []byte) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sourceTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cacheBustURL(target), bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Cache-Control", "no-cache")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &StatusError{URL: target, Status: resp.StatusCode}
	}

	// Drain so the connection can be reused.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return 0, err
	}
	return throughputMbps(int64(len(payload)), time.Since(start)), nil
}

func (e *Estimator) sourceTimeout() time.Duration {
	if e.cfg.SourceTimeout > 0 {
		return e.cfg.SourceTimeout
	}
	return 30 * time.Second
}

func (e *Estimator) uploadBytes() int {
	if e.cfg.UploadBytes > 0 {
		return e.cfg.UploadBytes
	}
	return 4 << 20
}

// throughputMbps converts a transfer of n bytes over elapsed into
// megabits per second (1 Mb = 1024*1024 bits).
func throughputMbps(n int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(n) * 8 / secs / (1024 * 1024)
}

// median returns the middle element of the sorted samples; for an even
// count it returns the upper of the two middle elements.
func median(samples []float64) float64 {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	return sorted[len(sorted)/2]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// cacheBustURL appends a timestamp query parameter so intermediary
// caches cannot serve the payload and inflate the measurement.
func cacheBustURL(source string) string {
	sep := "?"
	if strings.Contains(source, "?") {
		sep = "&"
	}
	return source + sep + "ts=" + strconv.FormatInt(time.Now().UnixNano(), 10)
}
