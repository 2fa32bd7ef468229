package collector

import (
	"errors"
	"fmt"
)

var (
	errNoFilesystems = errors.New("no filesystems reported")
	errNoInterfaces  = errors.New("no network interfaces reported")
)

// CollectionError reports a failure to read one specific metric. It
// wraps the underlying cause so callers can classify it, and its Metric
// field identifies which reading failed.
type CollectionError struct {
	Metric string
	Cause  error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("failed to collect %s: %v", e.Metric, e.Cause)
}

func (e *CollectionError) Unwrap() error {
	return e.Cause
}
