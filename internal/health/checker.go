// Package health aggregates dependency probes into one report.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// ServiceStatus is the outcome of one probe.
type ServiceStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the aggregate result.
type Report struct {
	Status   string                   `json:"status"`
	Services map[string]ServiceStatus `json:"services"`
}

// Healthy 报告所有依赖是否正常。
func (r *Report) Healthy() bool {
	return r.Status == StatusHealthy
}

// Checker runs registered probes concurrently, each bounded by a timeout.
type Checker struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]CheckFunc
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker creates an empty checker.
func NewChecker(timeout time.Duration, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{checks: make(map[string]CheckFunc), timeout: timeout, logger: logger.Named("health")}
}

// Register adds or replaces a named probe.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.checks[name]; !exists {
		c.names = append(c.names, name)
	}
	c.checks[name] = fn
}

// Run executes every probe. A failing probe never cancels the others.
func (c *Checker) Run(ctx context.Context) *Report {
	c.mu.RLock()
	names := append([]string(nil), c.names...)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = c.checks[name]
	}
	c.mu.RUnlock()

	results := make([]ServiceStatus, len(names))
	var g errgroup.Group
	for i := range names {
		g.Go(func() error {
			probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			if err := checks[i](probeCtx); err != nil {
				c.logger.Warn("health check failed", zap.String("service", names[i]), zap.Error(err))
				results[i] = ServiceStatus{Status: StatusUnhealthy, Error: err.Error()}
				return nil
			}
			results[i] = ServiceStatus{Status: StatusHealthy}
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{Status: StatusHealthy, Services: make(map[string]ServiceStatus, len(names))}
	for i, name := range names {
		report.Services[name] = results[i]
		if results[i].Status != StatusHealthy {
			report.Status = StatusDegraded
		}
	}
	return report
}
