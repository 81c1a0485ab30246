package observe

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you112ef/boltcache/observe/exporters"
)

var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSamplePct       = errors.New("observe: sample percentage must be between 0.0 and 1.0")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
)

// Config selects what the Observer exports and where.
type Config struct {
	ServiceName string
	Version     string
	Tracing     TracingConfig
	Metrics     MetricsConfig
	Logging     LoggingConfig

	// Output receives stdout exporter output and log lines.
	// Default: os.Stderr
	Output io.Writer

	// Registerer receives the prometheus exporter's collector.
	// Default: prometheus.DefaultRegisterer
	Registerer prometheus.Registerer
}

type TracingConfig struct {
	Enabled bool
	// Exporter is one of exporters.TracingNames.
	Exporter string
	// SamplePct is the share of root traces kept, from 0 to 1.
	SamplePct float64
}

type MetricsConfig struct {
	Enabled bool
	// Exporter is one of exporters.MetricsNames.
	Exporter string
}

type LoggingConfig struct {
	Enabled bool
	// Level is debug, info, warn or error. Empty means info.
	Level string
}

// Validate reports every problem with the configuration, joined. Settings
// of a disabled signal are not checked.
func (c *Config) Validate() error {
	var errs []error
	if c.ServiceName == "" {
		errs = append(errs, ErrMissingServiceName)
	}
	if c.Tracing.Enabled {
		if !exporters.SupportsTracing(c.Tracing.Exporter) {
			errs = append(errs, fmt.Errorf("%w: %q (want one of %v)", ErrInvalidTracingExporter, c.Tracing.Exporter, exporters.TracingNames()))
		}
		if c.Tracing.SamplePct < 0 || c.Tracing.SamplePct > 1 {
			errs = append(errs, fmt.Errorf("%w: got %g", ErrInvalidSamplePct, c.Tracing.SamplePct))
		}
	}
	if c.Metrics.Enabled && !exporters.SupportsMetrics(c.Metrics.Exporter) {
		errs = append(errs, fmt.Errorf("%w: %q (want one of %v)", ErrInvalidMetricsExporter, c.Metrics.Exporter, exporters.MetricsNames()))
	}
	if c.Logging.Enabled && c.Logging.Level != "" {
		if _, ok := logLevels[c.Logging.Level]; !ok {
			errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging.Level))
		}
	}
	return errors.Join(errs...)
}
