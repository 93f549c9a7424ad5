package upstream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kestrelgw/kestrel/internal/config"
)

var (
	// ErrUnknownUpstream is returned when a service references an upstream
	// that has been removed at runtime.
	ErrUnknownUpstream = errors.New("unknown upstream")
	// ErrCircuitOpen is returned when every healthy target is excluded by
	// its circuit breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Pool is the runtime counterpart of a configured upstream: its targets,
// per-target circuit breakers, balancer, and resilience policy.
type Pool struct {
	Name      string
	Algorithm string

	mu       sync.RWMutex
	targets  []*Target
	breakers map[*Target]*CircuitBreaker

	balancer *Balancer

	healthCheck *config.HealthCheckConfig
	circuit     *config.CircuitBreakerConfig
	retry       *config.RetryConfig

	stopHealth context.CancelFunc
}

// Targets returns a snapshot of the pool's target list.
func (p *Pool) Targets() []*Target {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Target, len(p.targets))
	copy(out, p.targets)
	return out
}

func (p *Pool) breaker(t *Target) *CircuitBreaker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.breakers[t]
}

// TargetStatus is the admin-facing view of one target.
type TargetStatus struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Weight      int    `json:"weight"`
	Healthy     bool   `json:"healthy"`
	ActiveConns int64  `json:"active_connections"`
	Circuit     string `json:"circuit_state"`
}

// RetryPlan is the forwarding retry policy of an upstream.
type RetryPlan struct {
	Enabled       bool
	MaxRetries    int
	RetryOnStatus map[int]bool
}

func (rp RetryPlan) Retryable(status int) bool {
	return rp.RetryOnStatus[status]
}

// Manager owns the mapping from upstream name to pool and is the only writer
// of that mapping. Request-path reads take a shared snapshot.
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]*Pool
	logger *zap.Logger

	// Parent context for health checker goroutines, set by Start.
	ctx context.Context
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		pools:  make(map[string]*Pool),
		logger: logger.Named("upstream"),
	}
}

// Start registers the configured upstreams and launches their health
// checkers. Checkers live until the manager is stopped or their upstream is
// removed.
func (m *Manager) Start(ctx context.Context, upstreams []config.Upstream) error {
	m.ctx = ctx
	for i := range upstreams {
		if err := m.AddUpstream(upstreams[i]); err != nil {
			return err
		}
	}
	return nil
}

// AddUpstream creates a pool and, when configured, its health checker.
func (m *Manager) AddUpstream(cfg config.Upstream) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[cfg.Name]; exists {
		return fmt.Errorf("upstream %s already exists", cfg.Name)
	}

	pool := &Pool{
		Name:        cfg.Name,
		Algorithm:   cfg.Algorithm,
		breakers:    make(map[*Target]*CircuitBreaker),
		balancer:    NewBalancer(cfg.Algorithm),
		healthCheck: cfg.HealthCheck,
		circuit:     cfg.CircuitBreaker,
		retry:       cfg.Retry,
	}
	for _, t := range cfg.Targets {
		target := NewTarget(t.Host, t.Port, t.Weight)
		pool.targets = append(pool.targets, target)
		pool.breakers[target] = NewCircuitBreaker(cfg.CircuitBreaker)
	}

	if cfg.HealthCheck != nil && cfg.HealthCheck.Enabled {
		parent := m.ctx
		if parent == nil {
			parent = context.Background()
		}
		hcCtx, cancel := context.WithCancel(parent)
		pool.stopHealth = cancel
		hc := NewHealthChecker(cfg.Name, *cfg.HealthCheck, pool.Targets, m.logger)
		go hc.Run(hcCtx)
	}

	m.pools[cfg.Name] = pool
	m.logger.Info("upstream registered",
		zap.String("upstream", cfg.Name),
		zap.String("algorithm", cfg.Algorithm),
		zap.Int("targets", len(pool.targets)))
	return nil
}

// RemoveUpstream deletes a pool and stops its health checker.
func (m *Manager) RemoveUpstream(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return ErrUnknownUpstream
	}
	if pool.stopHealth != nil {
		pool.stopHealth()
	}
	delete(m.pools, name)
	m.logger.Info("upstream removed", zap.String("upstream", name))
	return nil
}

// AddTarget appends a target to an existing pool at runtime.
func (m *Manager) AddTarget(upstream string, t config.Target) error {
	pool, err := m.pool(upstream)
	if err != nil {
		return err
	}

	weight := t.Weight
	if weight == 0 {
		weight = 1
	}
	target := NewTarget(t.Host, t.Port, weight)

	pool.mu.Lock()
	defer pool.mu.Unlock()
	pool.targets = append(pool.targets, target)
	pool.breakers[target] = NewCircuitBreaker(pool.circuit)
	return nil
}

// RemoveTarget drops a target identified by host:port.
func (m *Manager) RemoveTarget(upstream, addr string) error {
	pool, err := m.pool(upstream)
	if err != nil {
		return err
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()
	for i, t := range pool.targets {
		if t.Addr() == addr {
			pool.targets = append(pool.targets[:i], pool.targets[i+1:]...)
			delete(pool.breakers, t)
			pool.balancer.forget(t)
			return nil
		}
	}
	return fmt.Errorf("target %s not found in upstream %s", addr, upstream)
}

func (m *Manager) pool(name string) (*Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[name]
	if !ok {
		return nil, ErrUnknownUpstream
	}
	return pool, nil
}

// Get returns the pool for an upstream name.
func (m *Manager) Get(name string) (*Pool, error) {
	return m.pool(name)
}

// Names lists registered upstreams.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	return names
}

// Select picks a target for a request: targets excluded by health or by their
// circuit breaker are never returned. The active-connection slot is acquired
// before returning; the caller must Release on every exit path.
func (m *Manager) Select(upstream, clientIP string) (*Target, error) {
	pool, err := m.pool(upstream)
	if err != nil {
		return nil, err
	}

	pool.mu.RLock()
	candidates := make([]*Target, 0, len(pool.targets))
	sawHealthy := false
	for _, t := range pool.targets {
		if !t.Healthy() {
			continue
		}
		sawHealthy = true
		if pool.breakers[t].Allow() {
			candidates = append(candidates, t)
		}
	}
	pool.mu.RUnlock()

	if len(candidates) == 0 {
		if sawHealthy {
			return nil, ErrCircuitOpen
		}
		return nil, ErrNoHealthyTarget
	}

	target, err := pool.balancer.Pick(candidates, clientIP)
	if err != nil {
		return nil, err
	}
	pool.balancer.Acquire(target)
	return target, nil
}

// Release returns the active-connection slot acquired by Select.
func (m *Manager) Release(upstream string, t *Target) {
	pool, err := m.pool(upstream)
	if err != nil {
		// Upstream removed mid-flight; the target is unreachable from any
		// pool, just drop the gauge.
		t.release()
		return
	}
	pool.balancer.Release(t)
}

// Report records a request outcome in the target's circuit breaker.
func (m *Manager) Report(upstream string, t *Target, success bool) {
	pool, err := m.pool(upstream)
	if err != nil {
		return
	}
	cb := pool.breaker(t)
	if cb == nil {
		return
	}
	if success {
		cb.RecordSuccess()
	} else {
		cb.RecordFailure()
	}
}

// Plan returns the retry policy for an upstream.
func (m *Manager) Plan(upstream string) (RetryPlan, error) {
	pool, err := m.pool(upstream)
	if err != nil {
		return RetryPlan{}, err
	}

	// The status set classifies breaker outcomes even when retrying is
	// disabled; Enabled only gates extra attempts.
	plan := RetryPlan{RetryOnStatus: make(map[int]bool)}
	if pool.retry != nil {
		plan.Enabled = pool.retry.Enabled
		plan.MaxRetries = pool.retry.MaxRetries
		for _, s := range pool.retry.RetryOnStatus {
			plan.RetryOnStatus[s] = true
		}
	}
	return plan, nil
}

// Status reports the admin view of one upstream's targets.
func (m *Manager) Status(upstream string) ([]TargetStatus, error) {
	pool, err := m.pool(upstream)
	if err != nil {
		return nil, err
	}

	pool.mu.RLock()
	defer pool.mu.RUnlock()
	out := make([]TargetStatus, 0, len(pool.targets))
	for _, t := range pool.targets {
		out = append(out, TargetStatus{
			Host:        t.Host,
			Port:        t.Port,
			Weight:      t.Weight,
			Healthy:     t.Healthy(),
			ActiveConns: t.ActiveConns(),
			Circuit:     pool.breakers[t].State().String(),
		})
	}
	return out, nil
}

// Stop tears down all health checkers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		if pool.stopHealth != nil {
			pool.stopHealth()
		}
	}
}
