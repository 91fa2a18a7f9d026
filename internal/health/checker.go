// Package health checks the external dependencies of the service.
package health

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Status of a component or of the whole service.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded" // a non critical dependency is failing
	StatusDown     Status = "down"     // a critical dependency is failing
	StatusDisabled Status = "disabled" // the dependency is not configured
)

// CheckFunc returns nil when the dependency is reachable.
type CheckFunc func(ctx context.Context) error

type component struct {
	name     string
	check    CheckFunc
	critical bool
	healthy  atomic.Bool
	checked  atomic.Bool
}

// Report is the outcome of one check round.
type Report struct {
	Status     Status
	Components map[string]Status
}

// Fields flattens the report into {"status": ..., "<component>": ...}.
func (r Report) Fields() map[string]Status {
	out := make(map[string]Status, len(r.Components)+1)
	for name, st := range r.Components {
		out[name] = st
	}
	out["status"] = r.Status
	return out
}

// Checker runs dependency checks on demand and, once started, periodically
// so that state changes show up in the logs without traffic.
type Checker struct {
	interval   time.Duration
	timeout    time.Duration
	mu         sync.RWMutex
	components []*component
	disabled   []string
	logger     *zap.Logger
	running    atomic.Bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewChecker creates a checker. Every check is bounded by timeout.
func NewChecker(interval, timeout time.Duration, logger *zap.Logger) *Checker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{interval: interval, timeout: timeout, logger: logger}
}

// Register adds a dependency. A failing critical dependency marks the service down;
// any other failure marks it degraded.
func (c *Checker) Register(name string, critical bool, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, &component{name: name, check: check, critical: critical})
}

// Disable reports name as disabled in every report.
func (c *Checker) Disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled = append(c.disabled, name)
}

// Start begins the periodic checks.
func (c *Checker) Start(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Info("Health checker already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.logger.Info("Health checker started", zap.Duration("interval", c.interval))
		for {
			select {
			case <-ticker.C:
				c.Check(ctx)
			case <-ctx.Done():
				c.logger.Info("Health checker stopping")
				return
			}
		}
	}()
}

// Stop gracefully stops the periodic checks.
func (c *Checker) Stop() {
	if c.running.Load() {
		c.cancel()
		c.wg.Wait()
		c.running.Store(false)
	}
}

// Check tests every dependency concurrently and returns the combined report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	components := make([]*component, len(c.components))
	copy(components, c.components)
	disabled := append([]string(nil), c.disabled...)
	c.mu.RUnlock()

	results := make([]bool, len(components))
	var wg sync.WaitGroup
	for i, comp := range components {
		wg.Add(1)
		go func(i int, comp *component) {
			defer wg.Done()
			results[i] = c.checkComponent(ctx, comp)
		}(i, comp)
	}
	wg.Wait()

	report := Report{Status: StatusOK, Components: make(map[string]Status, len(components)+len(disabled))}
	for _, name := range disabled {
		report.Components[name] = StatusDisabled
	}
	for i, comp := range components {
		if results[i] {
			report.Components[comp.name] = StatusOK
			continue
		}
		if comp.critical {
			report.Components[comp.name] = StatusDown
			report.Status = StatusDown
			continue
		}
		report.Components[comp.name] = StatusDegraded
		if report.Status == StatusOK {
			report.Status = StatusDegraded
		}
	}
	return report
}

func (c *Checker) checkComponent(ctx context.Context, comp *component) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := comp.check(ctx)
	healthy := err == nil

	// log transitions only
	first := !comp.checked.Swap(true)
	was := comp.healthy.Swap(healthy)
	switch {
	case !healthy && (first || was):
		c.logger.Warn("Dependency marked as unhealthy",
			zap.String("component", comp.name), zap.Bool("critical", comp.critical), zap.Error(err))
	case healthy && !first && !was:
		c.logger.Info("Dependency marked as healthy", zap.String("component", comp.name))
	}
	return healthy
}

// Names returns the registered and disabled component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := append([]string(nil), c.disabled...)
	for _, comp := range c.components {
		names = append(names, comp.name)
	}
	sort.Strings(names)
	return names
}
