// Package breaker provides a per-service circuit breaker registry with
// lazy open-to-half-open transitions.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"concierge/pkg/config"
	"concierge/pkg/logx"
)

// State represents the state of one service's circuit.
type State int

const (
	StateClosed State = iota // normal operation
	StateOpen                // failing, reject requests
	StateHalfOpen            // probing whether the service recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// OpenError is returned by wrappers when a circuit rejects a request.
type OpenError struct {
	Service string
	State   State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker for %s is %s", e.Service, e.State)
}

// circuit is the per-service state. In HalfOpen, failureCount doubles as
// the in-flight trial counter so at most HalfOpenMax probes run at once.
type circuit struct {
	state        State
	failureCount int
	lastFailure  time.Time
	lastSuccess  time.Time
	openUntil    time.Time
}

// Registry tracks circuit state per service name. Circuits are created
// lazily and live for the process lifetime.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      config.Breaker
	logger   *logx.Logger
	now      func() time.Time
}

// New creates a circuit breaker registry.
func New(cfg config.Breaker) *Registry {
	return &Registry{
		circuits: make(map[string]*circuit),
		cfg:      cfg,
		logger:   logx.NewLogger("breaker"),
		now:      time.Now,
	}
}

func (r *Registry) get(service string) *circuit {
	c, ok := r.circuits[service]
	if !ok {
		c = &circuit{state: StateClosed}
		r.circuits[service] = c
	}
	return c
}

// CanExecute reports whether a request to the service may proceed.
// The Open to HalfOpen transition happens here, lazily, once openUntil has
// passed; no background timer is involved.
func (r *Registry) CanExecute(service string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(service)
	now := r.now()

	switch c.state {
	case StateClosed:
		return true

	case StateOpen:
		if now.Before(c.openUntil) {
			return false
		}
		c.state = StateHalfOpen
		c.failureCount = 0
		r.logger.Info("circuit for %s half-open, probing recovery", service)
		// The transition consumes the first trial slot.
		c.failureCount++
		return true

	case StateHalfOpen:
		if c.failureCount >= r.cfg.HalfOpenMax {
			return false
		}
		c.failureCount++
		return true

	default:
		return false
	}
}

// RecordSuccess notes a successful call. A success while HalfOpen closes
// the circuit; while Closed it clears the failure streak.
func (r *Registry) RecordSuccess(service string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(service)
	c.lastSuccess = r.now()

	switch c.state {
	case StateHalfOpen:
		c.state = StateClosed
		c.failureCount = 0
		r.logger.Info("circuit for %s closed after successful probe", service)
	case StateClosed:
		c.failureCount = 0
	}
}

// RecordFailure notes a failed call. Enough consecutive failures open the
// circuit; any failure while HalfOpen reopens it immediately.
func (r *Registry) RecordFailure(service, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.get(service)
	now := r.now()
	c.lastFailure = now

	switch c.state {
	case StateClosed:
		c.failureCount++
		if c.failureCount >= r.cfg.FailureThreshold {
			c.state = StateOpen
			c.openUntil = now.Add(r.cfg.RecoveryTimeout())
			r.logger.Error("circuit for %s opened after %d failures (%s)", service, c.failureCount, reason)
		}

	case StateHalfOpen:
		c.state = StateOpen
		c.openUntil = now.Add(r.cfg.RecoveryTimeout())
		c.failureCount = 0
		r.logger.Error("circuit for %s reopened from half-open (%s)", service, reason)

	case StateOpen:
		c.openUntil = now.Add(r.cfg.RecoveryTimeout())
	}
}

// StateOf returns the current state for a service. Observability only.
func (r *Registry) StateOf(service string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(service).state
}
