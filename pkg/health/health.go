// Package health provides a concurrent health-check framework. Components
// register Check functions, and the Checker runs them in parallel to produce
// an aggregate Report suitable for Kubernetes liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Check is a function that probes a single dependency and returns its status.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

type registration struct {
	check    Check
	critical bool
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	checks map[string]registration
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		checks: make(map[string]registration),
		logger: slog.Default().With("component", "health"),
	}
}

// Register adds a named check whose failure takes the service down.
func (c *Checker) Register(name string, check Check) {
	c.register(name, check, true)
}

// RegisterOptional adds a check whose failure only degrades the service. The
// rate limiter's redis is optional because the limiter fails open.
func (c *Checker) RegisterOptional(name string, check Check) {
	c.register(name, check, false)
}

func (c *Checker) register(name string, check Check, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registration{check: check, critical: critical}
}

// Ping adapts a ping-style function into a Check.
func Ping(fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := fn(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Run executes all registered checks concurrently and returns an aggregated
// Report. The overall status is the worst status among all components.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registration, len(c.checks))
	for name, reg := range c.checks {
		checks[name] = reg
	}
	c.mu.RUnlock()
	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	down := false
	degraded := false

	for name, reg := range checks {
		wg.Add(1)
		go func(n string, r registration) {
			defer wg.Done()
			start := time.Now()
			result := r.check(ctx)
			result.Latency = time.Since(start).Round(time.Millisecond).String()
			mu.Lock()
			defer mu.Unlock()
			report.Components[n] = result
			switch {
			case result.Status == StatusDown && r.critical:
				down = true
			case result.Status != StatusUp:
				degraded = true
			}
		}(name, reg)
	}
	wg.Wait()
	switch {
	case down:
		report.Status = StatusDown
	case degraded:
		report.Status = StatusDegraded
	}
	if report.Status != StatusUp {
		c.logger.Warn("health check not up", "status", report.Status)
	}
	return report
}

// LiveHandler returns an HTTP handler for Kubernetes liveness probes.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
		})
	}
}

// ReadyHandler returns an HTTP handler for Kubernetes readiness probes. A
// degraded report is still ready.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		report := c.Run(ctx)
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(report)
	}
}
