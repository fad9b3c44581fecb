package observability

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fulmenhq/gofulmen/telemetry"
	"github.com/fulmenhq/gofulmen/telemetry/exporters"
)

var (
	// TelemetrySystem is the global telemetry system; nil disables emission.
	TelemetrySystem *telemetry.System

	// PrometheusExporter serves the scrape endpoint proxied by /metrics.
	PrometheusExporter *exporters.PrometheusExporter

	metricsPort int
)

// DefaultMetricsPort is used when the exporter address cannot be resolved.
const DefaultMetricsPort = 9090

// InitMetrics starts the Prometheus exporter on port (0 picks a free port)
// and installs a telemetry system that emits into it.
func InitMetrics(namespace string, port int) error {
	requested := port
	if requested < 0 {
		requested = 0
	}
	metricsPort = requested

	PrometheusExporter = exporters.NewPrometheusExporter(namespace, fmt.Sprintf(":%d", requested))
	if err := PrometheusExporter.Start(); err != nil {
		return err
	}

	if actual, err := resolvePort(PrometheusExporter.GetAddr()); err == nil {
		metricsPort = actual
	} else if requested == 0 {
		metricsPort = DefaultMetricsPort
	}

	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: PrometheusExporter,
	})
	if err != nil {
		return err
	}
	TelemetrySystem = sys
	return nil
}

// StopMetrics stops the exporter and disables emission.
func StopMetrics() error {
	var err error
	if PrometheusExporter != nil {
		err = PrometheusExporter.Stop()
		PrometheusExporter = nil
	}
	TelemetrySystem = nil
	return err
}

// GetMetricsPort returns the port the Prometheus exporter listens on.
func GetMetricsPort() int {
	return metricsPort
}

func resolvePort(addr string) (int, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portStr)
}
