package config

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/you112ef/boltcache/auth"
	"github.com/you112ef/boltcache/cache"
	"github.com/you112ef/boltcache/observe"
	"github.com/you112ef/boltcache/persist"
	"github.com/you112ef/boltcache/request"
)

// Persistence backends.
const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
)

// Backends lists the accepted persistence.backend values.
var Backends = []string{BackendNone, BackendMemory, BackendBolt, BackendRedis}

// Config is the root configuration of a boltcache process.
type Config struct {
	Cache         CacheConfig         `yaml:"cache"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	Request       RequestConfig       `yaml:"request"`
	Observability ObservabilityConfig `yaml:"observability"`
	Server        ServerConfig        `yaml:"server"`
	Auth          auth.Config         `yaml:"auth"`
}

// RegisterFlagsAndApplyDefaults registers a flag for every setting, using
// the current defaults as flag defaults.
func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.Cache.RegisterFlagsAndApplyDefaults(join(prefix, "cache"), f)
	c.Persistence.RegisterFlagsAndApplyDefaults(join(prefix, "persistence"), f)
	c.Request.RegisterFlagsAndApplyDefaults(join(prefix, "request"), f)
	c.Observability.RegisterFlagsAndApplyDefaults(join(prefix, "observability"), f)
	c.Server.RegisterFlagsAndApplyDefaults(join(prefix, "server"), f)
	c.Auth.RegisterFlagsWithPrefix(join(prefix, "auth")+".", f)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	wrap := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", section, err))
		}
	}
	wrap("cache", c.Cache.Validate(c.Persistence.Enabled()))
	wrap("persistence", c.Persistence.Validate())
	wrap("request", c.Request.Validate())
	wrap("observability", c.Observability.Validate())
	wrap("server", c.Server.Validate())
	wrap("auth", c.Auth.Validate())
	return errors.Join(errs...)
}

// Default returns a Config holding every default, as if no flag was set.
func Default() *Config {
	c := &Config{}
	c.RegisterFlagsAndApplyDefaults("", flag.NewFlagSet("", flag.ContinueOnError))
	return c
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// CacheConfig holds the store budgets and lifecycle settings.
type CacheConfig struct {
	MaxSize         Bytes         `yaml:"max_size"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	MaxTTL          time.Duration `yaml:"max_ttl"`
	Namespace       string        `yaml:"namespace"`
}

func (c *CacheConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.MaxSize = Bytes(cache.DefaultMaxSizeBytes)
	f.Var(&c.MaxSize, join(prefix, "max-size"), "Upper bound on the encoded size of all entries, e.g. 50MiB.")
	f.IntVar(&c.MaxEntries, join(prefix, "max-entries"), cache.DefaultMaxEntries, "Upper bound on the number of entries.")
	f.DurationVar(&c.CleanupInterval, join(prefix, "cleanup-interval"), cache.DefaultCleanupInterval, "Period of the background expiry sweep. Negative disables it.")
	f.DurationVar(&c.DefaultTTL, join(prefix, "default-ttl"), cache.DefaultTTL, "Lifetime of entries written without a TTL.")
	f.DurationVar(&c.MaxTTL, join(prefix, "max-ttl"), 0, "Clamp for per-entry TTLs. 0 disables the clamp.")
	f.StringVar(&c.Namespace, join(prefix, "namespace"), cache.DefaultNamespace, "Name of the cache in metrics and durable keys.")
}

// Validate checks the section. persistent reports whether a durable
// backend is configured.
func (c *CacheConfig) Validate(persistent bool) error {
	return c.ToCache(persistent).Validate()
}

// ToCache converts the section to a cache.Config.
func (c *CacheConfig) ToCache(persistent bool) cache.Config {
	return cache.Config{
		MaxSizeBytes:      c.MaxSize.Int64(),
		MaxEntries:        c.MaxEntries,
		EnablePersistence: persistent,
		CleanupInterval:   c.CleanupInterval,
		DefaultTTL:        c.DefaultTTL,
		MaxTTL:            c.MaxTTL,
		Namespace:         c.Namespace,
	}
}

// PersistenceConfig selects and configures the durable backing.
type PersistenceConfig struct {
	// Backend is one of none, memory, bolt or redis.
	Backend  string        `yaml:"backend"`
	Compress bool          `yaml:"compress"`
	Timeout  time.Duration `yaml:"timeout"`

	Bolt  BoltConfig          `yaml:"bolt"`
	Redis persist.RedisConfig `yaml:"redis"`
}

// BoltConfig configures the bbolt backend.
type BoltConfig struct {
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
	NoSync bool   `yaml:"no_sync"`
}

func (c *PersistenceConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Backend, join(prefix, "backend"), BackendNone, "Durable backing: none, memory, bolt or redis.")
	f.BoolVar(&c.Compress, join(prefix, "compress"), false, "Snappy-compress durable records.")
	f.DurationVar(&c.Timeout, join(prefix, "timeout"), time.Second, "Bound on each durable storage call.")

	f.StringVar(&c.Bolt.Path, join(prefix, "bolt.path"), "boltcache.db", "bbolt database file.")
	f.StringVar(&c.Bolt.Bucket, join(prefix, "bolt.bucket"), persist.DefaultBoltBucket, "bbolt bucket holding the records.")
	f.BoolVar(&c.Bolt.NoSync, join(prefix, "bolt.no-sync"), false, "Skip fsync after each write.")

	f.StringVar(&c.Redis.Addr, join(prefix, "redis.addr"), "localhost:6379", "Redis host:port.")
	f.StringVar(&c.Redis.Password, join(prefix, "redis.password"), "", "Redis password. Accepts secretref:env:NAME and secretref:file:PATH.")
	f.IntVar(&c.Redis.DB, join(prefix, "redis.db"), 0, "Redis database number.")
	f.DurationVar(&c.Redis.Timeout, join(prefix, "redis.timeout"), 100*time.Millisecond, "Bound on each Redis command.")
	f.Int64Var(&c.Redis.ScanCount, join(prefix, "redis.scan-count"), 100, "COUNT hint for SCAN.")
}

// Enabled reports whether a durable backend is selected.
func (c *PersistenceConfig) Enabled() bool {
	return c.Backend != "" && c.Backend != BackendNone
}

func (c *PersistenceConfig) Validate() error {
	if c.Backend != "" && !slices.Contains(Backends, c.Backend) {
		return fmt.Errorf("unknown backend %q, want one of %v", c.Backend, Backends)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	switch c.Backend {
	case BackendBolt:
		if c.Bolt.Path == "" {
			return errors.New("bolt.path is required for the bolt backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return errors.New("redis.addr is required for the redis backend")
		}
	}
	return nil
}

// RequestConfig configures the request executor and its upstream.
type RequestConfig struct {
	MaxConcurrent   int           `yaml:"max_concurrent"`
	Retries         int           `yaml:"retries"`
	Timeout         time.Duration `yaml:"timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`

	Upstream UpstreamConfig `yaml:"upstream"`
}

// UpstreamConfig describes the HTTP origin fetched on cache misses.
type UpstreamConfig struct {
	BaseURL    string            `yaml:"base_url"`
	Headers    map[string]string `yaml:"headers"`
	HedgeAfter time.Duration     `yaml:"hedge_after"`
	HedgeUpTo  int               `yaml:"hedge_up_to"`
}

func (c *RequestConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.IntVar(&c.MaxConcurrent, join(prefix, "max-concurrent"), request.DefaultMaxConcurrent, "Operations allowed to run at once.")
	f.IntVar(&c.Retries, join(prefix, "retries"), request.DefaultRetries, "Retries after the first attempt.")
	f.DurationVar(&c.Timeout, join(prefix, "timeout"), request.DefaultTimeout, "Bound on each attempt.")
	f.DurationVar(&c.CacheTTL, join(prefix, "cache-ttl"), request.DefaultCacheTTL, "Lifetime of cached results.")
	f.DurationVar(&c.BackoffBase, join(prefix, "backoff-base"), request.DefaultBackoffBase, "Wait before the first retry; later waits double.")
	f.DurationVar(&c.MaxBackoff, join(prefix, "max-backoff"), request.DefaultMaxBackoff, "Cap on the wait between attempts.")
	f.Float64Var(&c.RateLimit, join(prefix, "rate-limit"), 0, "Operation starts per second. 0 disables.")
	f.IntVar(&c.RateBurst, join(prefix, "rate-burst"), 0, "Burst above rate-limit.")
	f.IntVar(&c.BreakerFailures, join(prefix, "breaker-failures"), 0, "Consecutive failures that open the circuit. 0 disables.")
	f.DurationVar(&c.BreakerReset, join(prefix, "breaker-reset"), 30*time.Second, "How long an open circuit rejects calls.")

	f.StringVar(&c.Upstream.BaseURL, join(prefix, "upstream.base-url"), "", "Origin prefixed to every fetched resource.")
	f.DurationVar(&c.Upstream.HedgeAfter, join(prefix, "upstream.hedge-after"), 0, "Send a hedged copy of requests unanswered after this long. 0 disables.")
	f.IntVar(&c.Upstream.HedgeUpTo, join(prefix, "upstream.hedge-up-to"), 2, "Copies sent per request, the original included.")
}

func (c *RequestConfig) Validate() error {
	if err := c.ToRequest().Validate(); err != nil {
		return err
	}
	if c.Upstream.HedgeAfter < 0 {
		return fmt.Errorf("upstream.hedge_after must not be negative, got %v", c.Upstream.HedgeAfter)
	}
	return nil
}

// ToRequest converts the section to a request.Config. Zero retries here
// means none, not the request package default.
func (c *RequestConfig) ToRequest() request.Config {
	retries := c.Retries
	if retries == 0 {
		retries = request.NoRetries
	}
	return request.Config{
		MaxConcurrent:   c.MaxConcurrent,
		DefaultRetries:  retries,
		DefaultTimeout:  c.Timeout,
		DefaultCacheTTL: c.CacheTTL,
		BackoffBase:     c.BackoffBase,
		MaxBackoff:      c.MaxBackoff,
		RateLimit:       c.RateLimit,
		RateBurst:       c.RateBurst,
		BreakerFailures: c.BreakerFailures,
		BreakerReset:    c.BreakerReset,
	}
}

// ToHTTP converts the upstream settings to a request.HTTPConfig.
func (c *RequestConfig) ToHTTP() request.HTTPConfig {
	var header http.Header
	if len(c.Upstream.Headers) > 0 {
		header = make(http.Header, len(c.Upstream.Headers))
		for k, v := range c.Upstream.Headers {
			header.Set(k, v)
		}
	}
	return request.HTTPConfig{
		BaseURL:    c.Upstream.BaseURL,
		Header:     header,
		HedgeAfter: c.Upstream.HedgeAfter,
		HedgeUpTo:  c.Upstream.HedgeUpTo,
	}
}

// ObservabilityConfig configures logging, metrics and tracing.
type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name"`
	LogLevel    string `yaml:"log_level"`

	Tracing struct {
		Enabled   bool    `yaml:"enabled"`
		Exporter  string  `yaml:"exporter"`
		SamplePct float64 `yaml:"sample_pct"`
	} `yaml:"tracing"`

	Metrics struct {
		Enabled  bool   `yaml:"enabled"`
		Exporter string `yaml:"exporter"`
	} `yaml:"metrics"`
}

func (c *ObservabilityConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.ServiceName, join(prefix, "service-name"), "boltcache", "Service name on logs, spans and metrics.")
	f.StringVar(&c.LogLevel, join(prefix, "log-level"), "info", "Log level: debug, info, warn or error.")
	f.BoolVar(&c.Tracing.Enabled, join(prefix, "tracing.enabled"), false, "Export traces.")
	f.StringVar(&c.Tracing.Exporter, join(prefix, "tracing.exporter"), "otlp", "Trace exporter: otlp, stdout or none.")
	f.Float64Var(&c.Tracing.SamplePct, join(prefix, "tracing.sample-pct"), 1.0, "Fraction of root spans sampled, 0 to 1.")
	f.BoolVar(&c.Metrics.Enabled, join(prefix, "metrics.enabled"), true, "Export metrics.")
	f.StringVar(&c.Metrics.Exporter, join(prefix, "metrics.exporter"), "prometheus", "Metric exporter: otlp, prometheus, stdout or none.")
}

func (c *ObservabilityConfig) Validate() error {
	oc := c.ToObserve("")
	return oc.Validate()
}

// ToObserve converts the section to an observe.Config for the given build
// version. Logging is always on.
func (c *ObservabilityConfig) ToObserve(version string) observe.Config {
	return observe.Config{
		ServiceName: c.ServiceName,
		Version:     version,
		Tracing: observe.TracingConfig{
			Enabled:   c.Tracing.Enabled,
			Exporter:  c.Tracing.Exporter,
			SamplePct: c.Tracing.SamplePct,
		},
		Metrics: observe.MetricsConfig{
			Enabled:  c.Metrics.Enabled,
			Exporter: c.Metrics.Exporter,
		},
		Logging: observe.LoggingConfig{
			Enabled: true,
			Level:   c.LogLevel,
		},
	}
}

// ServerConfig configures the admin HTTP listener.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     Bytes         `yaml:"max_body_size"`
}

func (c *ServerConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	c.MaxBodySize = 4 << 20
	f.StringVar(&c.ListenAddr, join(prefix, "listen-addr"), ":8080", "Address the admin API listens on.")
	f.DurationVar(&c.ReadTimeout, join(prefix, "read-timeout"), 30*time.Second, "Bound on reading a request.")
	f.DurationVar(&c.WriteTimeout, join(prefix, "write-timeout"), time.Minute, "Bound on writing a response.")
	f.DurationVar(&c.ShutdownTimeout, join(prefix, "shutdown-timeout"), 30*time.Second, "Grace period for in-flight requests on shutdown.")
	f.Var(&c.MaxBodySize, join(prefix, "max-body-size"), "Largest accepted request body, e.g. 4MiB.")
}

func (c *ServerConfig) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxBodySize <= 0 {
		errs = append(errs, fmt.Errorf("max_body_size must be positive, got %d", c.MaxBodySize))
	}
	return errors.Join(errs...)
}
