package speedtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// FailureKind classifies why a measurement source failed. Kinds feed
// log events and metric labels; they do not change retry behavior
// because failed sources are never retried within a measurement.
type FailureKind string

const (
	FailTimeout   FailureKind = "timeout"
	FailCancelled FailureKind = "cancelled"
	FailDNS       FailureKind = "dns_error"
	FailConnect   FailureKind = "connect_error"
	FailTLS       FailureKind = "tls_error"
	FailHTTP      FailureKind = "http_error"
	FailRead      FailureKind = "read_error"
	FailUnknown   FailureKind = "unknown"
)

// StatusError reports a non-2xx response from a measurement source.
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Status, e.URL)
}

// ClassifyFailure maps a transfer error to its FailureKind.
func ClassifyFailure(err error) FailureKind {
	if err == nil {
		return FailUnknown
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return FailHTTP
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	if errors.Is(err, context.Canceled) {
		return FailCancelled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailDNS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return FailTimeout
		}
		if opErr.Op == "dial" {
			return FailConnect
		}
		return FailRead
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return FailTimeout
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return FailRead
	}

	// TLS handshake failures surface as typed crypto/tls errors with no
	// shared sentinel; fall back to the message.
	msg := err.Error()
	if strings.Contains(msg, "tls:") || strings.Contains(msg, "x509:") || strings.Contains(msg, "certificate") {
		return FailTLS
	}

	return FailUnknown
}
