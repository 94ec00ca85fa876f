// Package instrumentation wires OpenTelemetry metrics and tracing for MailPipe.
//
// Metrics are exported through Prometheus (default), OTLP over HTTP, or
// stdout. Tracing is off unless an exporter is configured. A disabled
// provider hands out a nil-safe *Metrics so callers never branch on it.
package instrumentation

import (
	"fmt"

	"github.com/BTreeMap/MailPipe/internal/util"
)

// Exporter names.
const (
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

// Config holds instrumentation settings.
type Config struct {
	ServiceName       string
	ServiceVersion    string
	Enabled           bool
	MetricsExporter   string
	TracingExporter   string
	OTLPEndpoint      string
	OTLPInsecure      bool
	TraceSamplingRate float64
}

// DefaultConfig reads the instrumentation settings from the environment.
func DefaultConfig(version string) Config {
	return Config{
		ServiceName:       util.EnvOrDefault("OTEL_SERVICE_NAME", "mailpipe"),
		ServiceVersion:    version,
		Enabled:           util.ParseBoolEnv("INSTRUMENTATION_ENABLED", true),
		MetricsExporter:   util.EnvOrDefault("METRICS_EXPORTER", ExporterPrometheus),
		TracingExporter:   util.EnvOrDefault("TRACING_EXPORTER", ExporterNone),
		OTLPEndpoint:      util.EnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure:      util.ParseBoolEnv("OTEL_EXPORTER_OTLP_INSECURE", false),
		TraceSamplingRate: 0.1,
	}
}

// Validate checks exporter names and required endpoints.
func (c Config) Validate() error {
	if c.TraceSamplingRate < 0 || c.TraceSamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0.0 and 1.0, got %f", c.TraceSamplingRate)
	}
	switch c.MetricsExporter {
	case "", ExporterPrometheus, ExporterOTLP, ExporterStdout:
	default:
		return fmt.Errorf("invalid metrics exporter %q, must be one of: prometheus, otlp, stdout", c.MetricsExporter)
	}
	switch c.TracingExporter {
	case "", ExporterOTLP, ExporterStdout, ExporterNone:
	default:
		return fmt.Errorf("invalid tracing exporter %q, must be one of: otlp, stdout, none", c.TracingExporter)
	}
	if (c.TracingExporter == ExporterOTLP || c.MetricsExporter == ExporterOTLP) && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP endpoint is required when using the OTLP exporter")
	}
	return nil
}
