// Package health checks the backends a docops process depends on.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded marks a failing dependency the process can run without.
	StatusDegraded Status = "degraded"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Checkable is implemented by store adapters and backends.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// Checker is one named health check.
type Checker struct {
	name     string
	target   Checkable
	timeout  time.Duration
	optional bool
}

// NewChecker checks target within timeout (5s when zero).
func NewChecker(name string, target Checkable, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{name: name, target: target, timeout: timeout}
}

// Optional reports failures as degraded instead of unhealthy.
func (c *Checker) Optional() *Checker {
	c.optional = true
	return c
}

// Name returns the name of the health check
func (c *Checker) Name() string {
	return c.name
}

// Check runs the check once.
func (c *Checker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res := CheckResult{Name: c.name, Status: StatusHealthy}
	if err := c.target.HealthCheck(checkCtx); err != nil {
		res.Status = StatusUnhealthy
		if c.optional {
			res.Status = StatusDegraded
		}
		res.Error = err.Error()
	}
	res.Duration = time.Since(start)
	return res
}

// Registry holds checks in registration order.
type Registry struct {
	mu       sync.RWMutex
	checkers []*Checker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a check, replacing any check with the same name.
func (r *Registry) Register(c *Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.checkers {
		if existing.name == c.name {
			r.checkers[i] = c
			return
		}
	}
	r.checkers = append(r.checkers, c)
}

// Names lists the registered checks.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.checkers))
	for i, c := range r.checkers {
		out[i] = c.name
	}
	return out
}

// AggregatedResult is the outcome of every registered check.
type AggregatedResult struct {
	Status   Status        `json:"status"`
	Checks   []CheckResult `json:"checks"`
	Duration time.Duration `json:"duration"`
}

// IsHealthy returns true if the overall status is healthy
func (r AggregatedResult) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Check runs every check concurrently. Unhealthy outranks degraded.
func (r *Registry) Check(ctx context.Context) AggregatedResult {
	r.mu.RLock()
	checkers := append([]*Checker(nil), r.checkers...)
	r.mu.RUnlock()

	start := time.Now()
	results := make([]CheckResult, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c *Checker) {
			defer wg.Done()
			results[i] = c.Check(ctx)
		}(i, c)
	}
	wg.Wait()

	overall := StatusHealthy
	for _, res := range results {
		switch {
		case res.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case res.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}
	return AggregatedResult{Status: overall, Checks: results, Duration: time.Since(start)}
}
