package health

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/you112ef/boltcache/cache"
)

// Thresholds holds usage ratios, between 0 and 1, at which a checker
// reports degraded and unhealthy.
type Thresholds struct {
	// Warning triggers degraded status.
	// Default: 0.8
	Warning float64

	// Critical triggers unhealthy status.
	// Default: 0.95
	Critical float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Warning <= 0 || t.Warning >= 1 {
		t.Warning = 0.8
	}
	if t.Critical <= 0 || t.Critical >= 1 {
		t.Critical = 0.95
	}
	if t.Critical < t.Warning {
		t.Critical = min(t.Warning+0.1, 0.99)
	}
	return t
}

func (t Thresholds) judge(ratio float64, what string) (Status, string) {
	switch {
	case ratio >= t.Critical:
		return StatusUnhealthy, fmt.Sprintf("%s usage critical: %.1f%%", what, ratio*100)
	case ratio >= t.Warning:
		return StatusDegraded, fmt.Sprintf("%s usage high: %.1f%%", what, ratio*100)
	default:
		return StatusHealthy, fmt.Sprintf("%s usage normal: %.1f%%", what, ratio*100)
	}
}

func resultFor(status Status, msg string) Result {
	switch status {
	case StatusUnhealthy:
		return Unhealthy(msg, ErrCheckFailed)
	case StatusDegraded:
		return Degraded(msg)
	default:
		return Healthy(msg)
	}
}

// StatsSource is implemented by cache.Store for any value type.
type StatsSource interface {
	Stats() cache.Stats
}

// CacheChecker reports how full a cache is. The fuller of its two budgets,
// bytes and entries, decides the status.
type CacheChecker struct {
	name       string
	source     StatsSource
	thresholds Thresholds
}

// NewCacheChecker creates a checker for source.
func NewCacheChecker(name string, source StatsSource, thresholds Thresholds) *CacheChecker {
	if name == "" {
		name = "cache"
	}
	return &CacheChecker{name: name, source: source, thresholds: thresholds.withDefaults()}
}

// Name returns the name of this checker.
func (c *CacheChecker) Name() string { return c.name }

// Check performs the cache usage check.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	st := c.source.Stats()
	sizeRatio := st.MemoryUsagePercent / 100
	var entryRatio float64
	if st.MaxEntries > 0 {
		entryRatio = float64(st.TotalItems) / float64(st.MaxEntries)
	}

	ratio, what := sizeRatio, "memory"
	if entryRatio > sizeRatio {
		ratio, what = entryRatio, "entry"
	}
	status, msg := c.thresholds.judge(ratio, what)

	return resultFor(status, msg).WithDetails(map[string]any{
		"items":                st.TotalItems,
		"max_entries":          st.MaxEntries,
		"size":                 humanize.IBytes(uint64(st.CurrentSize)),
		"max_size":             humanize.IBytes(uint64(st.MaxSize)),
		"memory_usage_percent": st.MemoryUsagePercent,
		"hit_rate":             st.HitRate,
		"evictions":            st.Evictions,
	})
}

// MemoryCheckerConfig configures the process memory health checker.
type MemoryCheckerConfig struct {
	Thresholds

	// MaxAlloc is the heap allocation treated as full, in bytes.
	// If zero, memory obtained from the OS is used.
	MaxAlloc uint64
}

// MemoryChecker checks the Go heap against a ceiling.
type MemoryChecker struct {
	config MemoryCheckerConfig
}

// NewMemoryChecker creates a new memory health checker.
func NewMemoryChecker(config MemoryCheckerConfig) *MemoryChecker {
	config.Thresholds = config.Thresholds.withDefaults()
	return &MemoryChecker{config: config}
}

// Name returns the name of this checker.
func (m *MemoryChecker) Name() string {
	return "memory"
}

// Check performs the memory health check.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	maxAlloc := m.config.MaxAlloc
	if maxAlloc == 0 {
		maxAlloc = stats.Sys
	}
	if maxAlloc == 0 {
		return Healthy("memory stats unavailable")
	}

	status, msg := m.config.judge(float64(stats.Alloc)/float64(maxAlloc), "memory")
	return resultFor(status, msg).WithDetails(map[string]any{
		"alloc":      humanize.IBytes(stats.Alloc),
		"max_alloc":  humanize.IBytes(maxAlloc),
		"heap_inuse": humanize.IBytes(stats.HeapInuse),
		"num_gc":     stats.NumGC,
		"goroutines": runtime.NumGoroutine(),
	})
}
