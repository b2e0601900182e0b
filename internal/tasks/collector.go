package tasks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MetricsCollector defines the interface for sampling host state
type MetricsCollector interface {
	// Collect gathers a snapshot.
	// Per-core CPU usage is 0 on the first call (baseline establishment).
	Collect(ctx context.Context) (*Snapshot, error)

	// Name returns the collector name for logging
	Name() string

	// ResetCache clears rate calculation state (for staleness handling)
	ResetCache()
}

// NewMetricsCollector creates the appropriate collector based on configuration.
// interval is the sampling period; the CPU baseline outlives it (see CacheMaxAge).
func NewMetricsCollector(source, exporterURL string, interval time.Duration, logger *zap.Logger, httpClient *http.Client) (MetricsCollector, error) {
	source = strings.ToLower(source)
	if source == "" {
		source = "builtin"
	}

	switch source {
	case "builtin":
		logger.Info("Using builtin metrics collector (gopsutil)")
		c := NewBuiltinCollector(logger)
		c.maxCacheAge = CacheMaxAge(interval)
		return c, nil
	case "exporter":
		if exporterURL == "" {
			return nil, fmt.Errorf("exporter_url required for exporter source")
		}
		if httpClient == nil {
			httpClient = http.DefaultClient
		}
		logger.Info("Using exporter metrics collector",
			zap.String("url", exporterURL),
			zap.String("exporter", GetExporterName()))
		c := NewExporterCollector(exporterURL, logger, httpClient)
		c.maxCacheAge = CacheMaxAge(interval)
		return c, nil
	default:
		return nil, fmt.Errorf("unknown metrics source: %s", source)
	}
}
