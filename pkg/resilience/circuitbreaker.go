package resilience

import (
	"errors"
	"slices"
	"sync"
	"time"

	"storyforge/backend/pkg/logger"
)

// ErrCircuitOpen is returned by Execute while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit open")

// State of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint
	// SuccessThreshold trial successes in half-open close it again.
	SuccessThreshold uint
	// RetryTimeout is how long the circuit stays open before a trial call.
	RetryTimeout time.Duration
	// IsFailure decides whether an error counts against the breaker.
	// Nil counts every error.
	IsFailure func(error) bool
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RetryTimeout:     60 * time.Second,
	}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Requests    uint64    `json:"requests"`
	Failures    uint64    `json:"failures"`
	Rejected    uint64    `json:"rejected"`
	Opened      uint64    `json:"opened"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// CircuitBreaker stops calling a dependency after repeated failures and
// lets trial calls through one at a time once RetryTimeout has passed.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	log *logger.Logger
	now func() time.Time

	mu        sync.Mutex
	state     State
	failures  uint
	successes uint
	trial     bool
	reopenAt  time.Time
	stats     Stats
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	if log == nil {
		log = logger.GetGlobal()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		state: StateClosed,
		stats: Stats{Name: cfg.Name},
	}
}

// Execute runs fn unless the circuit is open. Errors rejected by IsFailure
// are returned but count as successes.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.admit() {
		cb.log.Warn("Circuit breaker rejected call", "name", cb.cfg.Name)
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && (cb.cfg.IsFailure == nil || cb.cfg.IsFailure(err)) {
		cb.onFailure(err)
		return err
	}
	cb.onSuccess()
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.reopenAt) {
			cb.stats.Rejected++
			return false
		}
		cb.state = StateHalfOpen
		cb.successes = 0
		cb.trial = false
		cb.log.Info("Circuit breaker half-open", "name", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		// One trial in flight at a time.
		if cb.trial {
			cb.stats.Rejected++
			return false
		}
		cb.trial = true
	}
	cb.stats.Requests++
	return true
}

func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trial = false
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.cfg.SuccessThreshold {
		cb.state = StateClosed
		cb.log.Info("Circuit breaker closed", "name", cb.cfg.Name)
	}
}

func (cb *CircuitBreaker) onFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Failures++
	cb.stats.LastFailure = cb.now()
	cb.failures++
	cb.trial = false

	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = StateOpen
		cb.reopenAt = cb.now().Add(cb.cfg.RetryTimeout)
		cb.stats.Opened++
		cb.log.Warn("Circuit breaker opened",
			"name", cb.cfg.Name,
			"failures", cb.failures,
			"error", err.Error(),
			"retry_at", cb.reopenAt.Format(time.RFC3339),
		)
	}
}

// State returns the current state. An open breaker whose RetryTimeout has
// passed still reports open until the next call moves it to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a copy of the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// rejecting reports whether a call made now would be refused outright.
func (cb *CircuitBreaker) rejecting() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state == StateOpen && cb.now().Before(cb.reopenAt)
}

// Registry hands out one breaker per key, created on first use.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	template CircuitBreakerConfig
	log      *logger.Logger
}

// NewRegistry creates a Registry whose breakers share template's settings.
func NewRegistry(template CircuitBreakerConfig, log *logger.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		template: template,
		log:      log,
	}
}

// Get returns the breaker for key.
func (r *Registry) Get(key string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[key]; ok {
		return cb
	}
	cfg := r.template
	cfg.Name = key
	cb := NewCircuitBreaker(cfg, r.log)
	r.breakers[key] = cb
	return cb
}

// Open lists the keys whose circuit is open and still inside its
// RetryTimeout, sorted.
func (r *Registry) Open() []string {
	r.mu.Lock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for k, v := range r.breakers {
		breakers[k] = v
	}
	r.mu.Unlock()

	var open []string
	for k, cb := range breakers {
		if cb.rejecting() {
			open = append(open, k)
		}
	}
	slices.Sort(open)
	return open
}
