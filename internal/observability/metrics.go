package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"

	"github.com/llmgate/llmgate/internal/config"
)

// fallbackMetricsPort is reported when the exporter was asked for a random
// port and its bound address cannot be read back.
const fallbackMetricsPort = 9090

var (
	// TelemetrySystem receives every gateway and server metric. Nil disables
	// emission.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint that /metrics proxies to.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// InitMetrics starts the Prometheus exporter on cfg.Port (0 picks a free
// port) and installs the telemetry system that emits through it. Metric names
// are prefixed with namespace.
func InitMetrics(namespace string, cfg config.MetricsConfig) error {
	port := max(cfg.Port, 0)

	exporter := exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", port))
	if err := exporter.Start(); err != nil {
		return fmt.Errorf("start prometheus exporter on port %d: %w", port, err)
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{Enabled: true, Emitter: exporter})
	if err != nil {
		return fmt.Errorf("create telemetry system: %w", err)
	}

	metricsPort = boundPort(exporter.GetAddr(), port)
	PrometheusExporter = exporter
	TelemetrySystem = sys
	return nil
}

// GetMetricsPort returns the port the exporter is listening on, or 0 before
// InitMetrics.
func GetMetricsPort() int {
	return metricsPort
}

func boundPort(addr string, requested int) int {
	if _, raw, err := net.SplitHostPort(addr); err == nil {
		if port, err := strconv.Atoi(raw); err == nil {
			return port
		}
	}
	if requested == 0 {
		return fallbackMetricsPort
	}
	return requested
}
