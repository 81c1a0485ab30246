package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// GateConfig configures the concurrency gate.
type GateConfig struct {
	// MaxConcurrent is the maximum number of concurrent operations.
	// Default: 6
	MaxConcurrent int

	// MaxWait bounds the time spent queued for a slot. Zero waits until a
	// slot frees or the context ends.
	MaxWait time.Duration
}

// Gate bounds concurrently running operations. Callers beyond the bound
// queue in arrival order and start as slots free.
type Gate struct {
	config GateConfig
	sem    *semaphore.Weighted

	mu        sync.Mutex
	active    int
	waiting   int
	maxActive int
	rejected  int64
}

// NewGate creates a new gate.
func NewGate(config GateConfig) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 6
	}
	return &Gate{
		config: config,
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrent)),
	}
}

// Acquire takes a slot, queueing if none is free. It returns ErrGateFull
// when MaxWait elapses first.
func (g *Gate) Acquire(ctx context.Context) error {
	if g.sem.TryAcquire(1) {
		g.admitted()
		return nil
	}

	g.mu.Lock()
	g.waiting++
	g.mu.Unlock()

	waitCtx := ctx
	if g.config.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.config.MaxWait)
		defer cancel()
	}
	err := g.sem.Acquire(waitCtx, 1)

	g.mu.Lock()
	g.waiting--
	g.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			g.mu.Lock()
			g.rejected++
			g.mu.Unlock()
			return ErrGateFull
		}
		return err
	}
	g.admitted()
	return nil
}

func (g *Gate) admitted() {
	g.mu.Lock()
	g.active++
	if g.active > g.maxActive {
		g.maxActive = g.active
	}
	g.mu.Unlock()
}

// Release frees a slot taken by Acquire.
func (g *Gate) Release() {
	g.mu.Lock()
	g.active--
	g.mu.Unlock()
	g.sem.Release(1)
}

// Execute runs the operation while holding a slot.
func (g *Gate) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()

	return op(ctx)
}

// Metrics returns current gate metrics.
func (g *Gate) Metrics() GateMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	return GateMetrics{
		Active:        g.active,
		Waiting:       g.waiting,
		MaxActive:     g.maxActive,
		Available:     g.config.MaxConcurrent - g.active,
		MaxConcurrent: g.config.MaxConcurrent,
		Rejected:      g.rejected,
	}
}

// GateMetrics contains gate statistics.
type GateMetrics struct {
	Active        int
	Waiting       int
	MaxActive     int
	Available     int
	MaxConcurrent int
	Rejected      int64
}
