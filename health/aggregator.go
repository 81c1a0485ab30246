package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	// Timeout bounds one round of checks.
	// Default: 10s
	Timeout time.Duration

	// Sequential runs checks one at a time instead of concurrently.
	Sequential bool

	// Clock stamps results and drives the timeout.
	// Default: wall clock
	Clock clock.Clock
}

// Report is the outcome of a round of checks.
type Report struct {
	Status  Status
	Checked time.Time
	Results map[string]Result
}

// Aggregator runs a set of named checks and folds them into one status.
type Aggregator struct {
	config AggregatorConfig

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
}

// NewAggregator creates an empty aggregator.
func NewAggregator(config AggregatorConfig) *Aggregator {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	return &Aggregator{config: config, checkers: make(map[string]Checker)}
}

// Register adds checkers under their names. A checker whose name is already
// taken replaces the previous one but keeps its position.
func (a *Aggregator) Register(checkers ...Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range checkers {
		name := c.Name()
		if _, ok := a.checkers[name]; !ok {
			a.order = append(a.order, name)
		}
		a.checkers[name] = c
	}
}

// Unregister removes the checker called name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.checkers, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// Names lists registered checks in registration order.
func (a *Aggregator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs the single check called name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	c, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := a.config.Clock.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return a.run(ctx, c), nil
}

// Run executes every registered check. A check still running at the
// timeout is reported unhealthy with ErrCheckTimeout.
func (a *Aggregator) Run(ctx context.Context) Report {
	a.mu.RLock()
	checkers := make([]Checker, len(a.order))
	for i, name := range a.order {
		checkers[i] = a.checkers[name]
	}
	a.mu.RUnlock()

	report := Report{
		Checked: a.config.Clock.Now(),
		Results: make(map[string]Result, len(checkers)),
	}
	if len(checkers) == 0 {
		return report
	}

	ctx, cancel := a.config.Clock.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	if a.config.Sequential {
		g.SetLimit(1)
	}
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = a.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range checkers {
		report.Results[c.Name()] = results[i]
		report.Status = Worst(report.Status, results[i].Status)
	}
	return report
}

func (a *Aggregator) run(ctx context.Context, c Checker) Result {
	start := a.config.Clock.Now()
	done := make(chan Result, 1)
	go func() { done <- c.Check(ctx) }()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Unhealthy("check timed out", ErrCheckTimeout)
	}
	r.Checked = start
	r.Duration = a.config.Clock.Since(start)
	return r
}
