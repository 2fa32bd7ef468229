package speedtest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func payloadServer(t *testing.T, size int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, size))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMedianOddCount(t *testing.T) {
	if got := median([]float64{10, 30, 20}); got != 20 {
		t.Errorf("expected 20, got %f", got)
	}
}

func TestMedianEvenCountPicksUpperMiddle(t *testing.T) {
	if got := median([]float64{10, 20, 30, 40}); got != 30 {
		t.Errorf("expected 30, got %f", got)
	}
}

func TestMedianSingleSample(t *testing.T) {
	if got := median([]float64{42.5}); got != 42.5 {
		t.Errorf("expected 42.5, got %f", got)
	}
}

func TestRound2(t *testing.T) {
	if got := round2(94.2549); got != 94.25 {
		t.Errorf("expected 94.25, got %f", got)
	}
	if got := round2(94.255); got != 94.26 {
		t.Errorf("expected 94.26, got %f", got)
	}
}

func TestThroughputMbps(t *testing.T) {
	// 1 MiB in one second is exactly 8 Mbps.
	if got := throughputMbps(1<<20, time.Second); got != 8 {
		t.Errorf("expected 8 Mbps, got %f", got)
	}
	if got := throughputMbps(1<<20, 0); got != 0 {
		t.Errorf("expected 0 for zero elapsed, got %f", got)
	}
}

func TestFinitePositive(t *testing.T) {
	cases := []struct {
		v    float64
		want bool
	}{
		{10, true},
		{0, false},
		{-1, false},
	}
	for _, c := range cases {
		if got := finitePositive(c.v); got != c.want {
			t.Errorf("finitePositive(%f) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestCacheBustURL(t *testing.T) {
	busted := cacheBustURL("http://example.com/10MB.zip")
	if !strings.Contains(busted, "?ts=") {
		t.Errorf("expected timestamp parameter, got %q", busted)
	}

	busted = cacheBustURL("http://example.com/file?size=10")
	if !strings.Contains(busted, "&ts=") {
		t.Errorf("expected appended timestamp parameter, got %q", busted)
	}
}

func TestMeasureSucceedsAcrossSources(t *testing.T) {
	a := payloadServer(t, 64<<10)
	b := payloadServer(t, 64<<10)
	c := payloadServer(t, 64<<10)

	est := NewEstimator(&Config{
		DownloadSources: []string{a.URL, b.URL, c.URL},
		SourceTimeout:   5 * time.Second,
	})

	res, err := est.Measure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DownloadSamples != 3 {
		t.Errorf("expected 3 samples, got %d", res.DownloadSamples)
	}
	if res.DownloadMbps <= 0 {
		t.Errorf("expected positive download speed, got %f", res.DownloadMbps)
	}
	if res.UploadMbps != nil {
		t.Error("expected no upload result without upload targets")
	}
}

func TestMeasureSkipsFailedSources(t *testing.T) {
	good := payloadServer(t, 64<<10)
	bad := failingServer(t)

	est := NewEstimator(&Config{
		DownloadSources: []string{bad.URL, good.URL},
		SourceTimeout:   5 * time.Second,
	})

	res, err := est.Measure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DownloadSamples != 1 {
		t.Errorf("expected 1 sample after skipping failed source, got %d", res.DownloadSamples)
	}
}

func TestMeasureAllSourcesFailed(t *testing.T) {
	bad := failingServer(t)

	est := NewEstimator(&Config{
		DownloadSources: []string{bad.URL, bad.URL},
		SourceTimeout:   5 * time.Second,
	})

	_, err := est.Measure(context.Background())
	var speedErr *SpeedTestError
	if !errors.As(err, &speedErr) {
		t.Fatalf("expected SpeedTestError, got %T: %v", err, err)
	}
	if !strings.Contains(speedErr.Error(), "all 2 download sources failed") {
		t.Errorf("unexpected message %q", speedErr.Error())
	}
}

func TestMeasureNoSourcesConfigured(t *testing.T) {
	est := NewEstimator(&Config{SourceTimeout: time.Second})

	_, err := est.Measure(context.Background())
	var speedErr *SpeedTestError
	if !errors.As(err, &speedErr) {
		t.Fatalf("expected SpeedTestError, got %T", err)
	}
}

func TestMeasureStalledSourceTimesOut(t *testing.T) {
	stall := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	defer stall.Close()
	good := payloadServer(t, 64<<10)

	est := NewEstimator(&Config{
		DownloadSources: []string{stall.URL, good.URL},
		SourceTimeout:   100 * time.Millisecond,
	})

	start := time.Now()
	res, err := est.Measure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.DownloadSamples != 1 {
		t.Errorf("expected stalled source to be skipped, got %d samples", res.DownloadSamples)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("stalled source was not bounded by its timeout")
	}
}

func TestMeasureSendsCacheBustingRequest(t *testing.T) {
	var gotQuery, gotCacheControl string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotCacheControl = r.Header.Get("Cache-Control")
		w.Write(make([]byte, 1024))
	}))
	defer srv.Close()

	est := NewEstimator(&Config{
		DownloadSources: []string{srv.URL},
		SourceTimeout:   time.Second,
	})
	if _, err := est.Measure(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(gotQuery, "ts=") {
		t.Errorf("expected ts query parameter, got %q", gotQuery)
	}
	if gotCacheControl != "no-cache" {
		t.Errorf("expected no-cache header, got %q", gotCacheControl)
	}
}

func TestMeasureUpload(t *testing.T) {
	var uploaded int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := io.Copy(io.Discard, r.Body)
		uploaded = n
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	source := payloadServer(t, 64<<10)

	est := NewEstimator(&Config{
		DownloadSources: []string{source.URL},
		UploadTargets:   []string{srv.URL},
		SourceTimeout:   5 * time.Second,
		UploadBytes:     64 << 10,
	})

	res, err := est.Measure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UploadMbps == nil {
		t.Fatal("expected upload result")
	}
	if *res.UploadMbps <= 0 {
		t.Errorf("expected positive upload speed, got %f", *res.UploadMbps)
	}
	if res.UploadSamples != 1 {
		t.Errorf("expected 1 upload sample, got %d", res.UploadSamples)
	}
	if uploaded != 64<<10 {
		t.Errorf("expected 64 KiB uploaded, got %d bytes", uploaded)
	}
}

func TestMeasureUploadFailureStillReturnsDownload(t *testing.T) {
	source := payloadServer(t, 64<<10)
	bad := failingServer(t)

	est := NewEstimator(&Config{
		DownloadSources: []string{source.URL},
		UploadTargets:   []string{bad.URL},
		SourceTimeout:   5 * time.Second,
		UploadBytes:     1024,
	})

	res, err := est.Measure(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.UploadMbps != nil {
		t.Error("expected no upload result when every target fails")
	}
}

func TestSpeedTestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &SpeedTestError{Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected SpeedTestError to unwrap to its cause")
	}
}
