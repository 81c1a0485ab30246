// Package observe provides the logging, metrics and tracing primitives used
// by the cache store and the request executor.
//
// Logging is structured JSON on top of zap. Metrics and tracing are
// OpenTelemetry; exporters are selected by name (see package exporters).
// Every primitive has a no-op form so library users pay nothing unless they
// wire an Observer in.
package observe
