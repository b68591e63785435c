package health

import (
	"context"
	"sync"
	"time"

	"storyforge/backend/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a component is working but with reduced functionality
	StatusDegraded Status = "degraded"
)

// Component represents a system component that can be health-checked
type Component struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Description string    `json:"description,omitempty"`
	Error       string    `json:"error,omitempty"`
	Critical    bool      `json:"critical"`
	LastChecked time.Time `json:"last_checked"`
}

// Check represents a health check function
type Check func(ctx context.Context) (Status, string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker manages health checks for the system
type Checker struct {
	checks      map[string]registration
	components  map[string]*Component
	checkPeriod time.Duration
	timeout     time.Duration
	listeners   []func(healthy bool)
	mutex       sync.RWMutex
	log         *logger.Logger
}

// NewChecker creates a new health checker
func NewChecker(log *logger.Logger, checkPeriod time.Duration) *Checker {
	checker := &Checker{
		checks:      make(map[string]registration),
		components:  make(map[string]*Component),
		checkPeriod: checkPeriod,
		timeout:     5 * time.Second,
		log:         log,
	}

	checker.RegisterCheck("self", false, func(context.Context) (Status, string, error) {
		return StatusUp, "Health checker is running", nil
	})

	return checker
}

// RegisterCheck registers a new health check. A critical component that is
// down makes the whole system unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.checks[name] = registration{check: check, critical: critical}
	c.components[name] = &Component{
		Name:        name,
		Status:      StatusDown,
		Description: "Not checked yet",
		Critical:    critical,
	}
}

// OnChange registers a callback invoked after every run with the overall result.
func (c *Checker) OnChange(fn func(healthy bool)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.listeners = append(c.listeners, fn)
}

// RunChecks executes all registered health checks
func (c *Checker) RunChecks(ctx context.Context) {
	c.mutex.RLock()
	checks := make(map[string]registration, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mutex.RUnlock()

	type result struct {
		status Status
		desc   string
		err    error
	}
	results := make(map[string]result, len(checks))
	for name, reg := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		status, desc, err := reg.check(cctx)
		cancel()
		results[name] = result{status, desc, err}
	}

	c.mutex.Lock()
	now := time.Now()
	for name, r := range results {
		component, ok := c.components[name]
		if !ok {
			continue
		}
		component.Status = r.status
		component.Description = r.desc
		component.LastChecked = now

		if r.err != nil {
			component.Error = r.err.Error()
			c.log.Error("Health check failed",
				"component", name,
				"status", string(r.status),
				"error", r.err.Error(),
			)
		} else {
			component.Error = ""
		}
	}
	listeners := append([]func(bool){}, c.listeners...)
	c.mutex.Unlock()

	healthy := c.IsSystemHealthy()
	for _, fn := range listeners {
		fn(healthy)
	}
}

// Start runs the checks immediately and then periodically until ctx is done.
func (c *Checker) Start(ctx context.Context) {
	go func() {
		c.RunChecks(ctx)

		ticker := time.NewTicker(c.checkPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.RunChecks(ctx)
			}
		}
	}()
}

// GetStatus returns a snapshot of the current component states
func (c *Checker) GetStatus() map[string]*Component {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	result := make(map[string]*Component, len(c.components))
	for k, v := range c.components {
		componentCopy := *v
		result[k] = &componentCopy
	}

	return result
}

// IsSystemHealthy returns true if all critical components are up
func (c *Checker) IsSystemHealthy() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for _, component := range c.components {
		if component.Critical && component.Status == StatusDown {
			return false
		}
	}
	return true
}

// RegisterDatabaseCheck registers a critical database health check
func (c *Checker) RegisterDatabaseCheck(ping func(ctx context.Context) error) {
	c.RegisterCheck("database", true, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDown, "Database connection failed", err
		}
		return StatusUp, "Database connection is established", nil
	})
}

// RegisterPingCheck registers a non-critical dependency whose failure degrades service.
func (c *Checker) RegisterPingCheck(name string, ping func(ctx context.Context) error) {
	c.RegisterCheck(name, false, func(ctx context.Context) (Status, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, name + " is unreachable", err
		}
		return StatusUp, name + " is reachable", nil
	})
}
