package upstream

import (
	"sync"
	"time"

	"github.com/kestrelgw/kestrel/internal/config"
)

type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards a single target. A disabled breaker behaves as
// permanently closed. All transitions are serialized under the mutex.
type CircuitBreaker struct {
	enabled          bool
	failureThreshold int
	successThreshold int
	timeout          time.Duration

	mu        sync.Mutex
	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

func NewCircuitBreaker(cfg *config.CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{state: StateClosed}
	if cfg != nil && cfg.Enabled {
		cb.enabled = true
		cb.failureThreshold = cfg.FailureThreshold
		cb.successThreshold = cfg.SuccessThreshold
		cb.timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return cb
}

// Allow reports whether a request may proceed. In Open it refuses callers
// until the timeout has elapsed; the first call after that moves the breaker
// to HalfOpen, and HalfOpen admits every caller until an outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	if !cb.enabled {
		return true
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.timeout {
			cb.state = StateHalfOpen
			cb.failures = 0
			cb.successes = 0
			return true
		}
		return false
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	if !cb.enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
		cb.failures = 0
		cb.successes = 0
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
