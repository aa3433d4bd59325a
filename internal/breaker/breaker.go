package breaker

import (
	"errors"
	"sync"
	"time"
)

// State of a circuit breaker. Owned by the breaker instance, never by the
// registry.
type State string

const (
	Closed   State = "Closed"
	Open     State = "Open"
	HalfOpen State = "HalfOpen"
)

// ErrOpen is returned by Allow while the breaker is open.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds the per-breaker timeouts. Zero fields fall back to defaults.
type Config struct {
	TimeoutMs        int64 `json:"timeout_ms"`
	ResetTimeoutMs   int64 `json:"reset_timeout_ms"`
	FailureThreshold int   `json:"failure_threshold"`
}

func defaultConfig() Config {
	return Config{
		TimeoutMs:        10000,
		ResetTimeoutMs:   30000,
		FailureThreshold: 5,
	}
}

// merge fills zero fields of overrides from the defaults.
func merge(overrides Config) Config {
	cfg := defaultConfig()
	if overrides.TimeoutMs > 0 {
		cfg.TimeoutMs = overrides.TimeoutMs
	}
	if overrides.ResetTimeoutMs > 0 {
		cfg.ResetTimeoutMs = overrides.ResetTimeoutMs
	}
	if overrides.FailureThreshold > 0 {
		cfg.FailureThreshold = overrides.FailureThreshold
	}
	return cfg
}

// CircuitBreaker isolates failures for one (service, operation) pair. It
// trips open after consecutive failures reach the threshold, rejects calls
// while open, and lets a single probe through after the reset timeout.
type CircuitBreaker struct {
	Service   string
	Operation string

	mu       sync.Mutex
	cfg      Config
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time
}

func newBreaker(service, operation string, cfg Config) *CircuitBreaker {
	return &CircuitBreaker{
		Service:   service,
		Operation: operation,
		cfg:       cfg,
		state:     Closed,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns ErrOpen
// until the reset timeout elapses, then moves to half-open and admits one
// probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == Open {
		if cb.now().Sub(cb.openedAt) < time.Duration(cb.cfg.ResetTimeoutMs)*time.Millisecond {
			return ErrOpen
		}
		cb.state = HalfOpen
	}
	return nil
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = Closed
}

// RecordFailure counts a failure; a half-open probe failing or the threshold
// being reached trips the breaker open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == HalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = Open
		cb.openedAt = cb.now()
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Config() Config {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.cfg
}

// Timeout is the call deadline callers should apply around guarded work.
func (cb *CircuitBreaker) Timeout() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return time.Duration(cb.cfg.TimeoutMs) * time.Millisecond
}
