// Package circuitbreaker implements the circuit breaker pattern for failure
// isolation around provider calls.
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: provider unhealthy, requests fail immediately without invoking it
//   - Half-Open: one trial request allowed after the recovery timeout
//
// Implementations:
//   - InMemoryCircuitBreaker: single-instance, uses sync.Mutex
//   - RedisCircuitBreaker: distributed, uses Redis with Lua scripts for atomicity
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/fragmentforge/llm-gateway/internal/domain"
)

// CircuitBreaker defines the interface for circuit breaker implementations.
type CircuitBreaker interface {
	// Allow checks if a request should be allowed through.
	// Returns nil if allowed, domain.ErrCircuitBreakerOpen otherwise.
	Allow(ctx context.Context) error

	// RecordSuccess records a successful request. In half-open state this
	// closes the circuit and zeroes the failure count.
	RecordSuccess(ctx context.Context)

	// RecordFailure records a failed request. Reaching the failure threshold
	// opens the circuit; a half-open failure re-opens it.
	RecordFailure(ctx context.Context)

	// State returns the current state of the circuit breaker.
	State(ctx context.Context) State
}

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing fast
	StateHalfOpen              // single trial in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker behavior.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	RecoveryTimeout  time.Duration // time in open state before a half-open trial
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// InMemoryCircuitBreaker tracks consecutive failures and controls request
// flow to a single guarded operation. Suitable for single-instance
// deployments.
type InMemoryCircuitBreaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	trialInFlight bool
	config        Config
}

// NewInMemory creates a new in-memory circuit breaker.
func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		state:  StateClosed,
		config: cfg,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.trialInFlight = true
			return nil
		}
		return domain.ErrCircuitBreakerOpen
	case StateHalfOpen:
		if cb.trialInFlight {
			return domain.ErrCircuitBreakerOpen
		}
		cb.trialInFlight = true
		return nil
	}

	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.state = StateClosed
		cb.failures = 0
		cb.trialInFlight = false
	}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.trialInFlight = false
	}
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Manager manages circuit breakers for multiple guarded operations,
// created lazily per key. It supports both in-memory and distributed
// (Redis) backends.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]CircuitBreaker
	config   Config
	factory  func(key string) CircuitBreaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRedisClient configures the manager to build Redis-backed circuit
// breakers sharing the given client.
func WithRedisClient(client RedisClient) ManagerOption {
	return func(m *Manager) {
		m.factory = func(key string) CircuitBreaker {
			return NewRedisWithClient(client, key, m.config)
		}
	}
}

// NewManager creates a new circuit breaker manager. By default breakers are
// in-memory.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		breakers: make(map[string]CircuitBreaker),
		config:   cfg,
		factory: func(key string) CircuitBreaker {
			return NewInMemory(cfg)
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the circuit breaker for a key, creating one if it doesn't exist.
func (m *Manager) Get(key string) CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[key]
	m.mu.RUnlock()

	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.breakers[key]; ok {
		return existing
	}

	cb = m.factory(key)
	m.breakers[key] = cb
	return cb
}

// States returns the current state of all known circuit breakers.
func (m *Manager) States() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := context.Background()
	states := make(map[string]string)
	for key, cb := range m.breakers {
		states[key] = cb.State(ctx).String()
	}
	return states
}
