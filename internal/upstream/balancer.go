package upstream

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
)

// ErrNoHealthyTarget is returned when an upstream has no target that is both
// healthy and admitted by its circuit breaker.
var ErrNoHealthyTarget = errors.New("no healthy target available")

// Balancer picks one target per request from the healthy set of an upstream.
// The candidate list is supplied by the caller so that health and circuit
// filtering stay in one place.
type Balancer struct {
	algorithm string

	cursor atomic.Uint64

	// Smooth weighted round-robin state.
	mu      sync.Mutex
	current map[*Target]int
}

func NewBalancer(algorithm string) *Balancer {
	return &Balancer{
		algorithm: algorithm,
		current:   make(map[*Target]int),
	}
}

// Pick selects a target from candidates. The clientIP is used only by the
// ip-hash algorithm.
func (b *Balancer) Pick(candidates []*Target, clientIP string) (*Target, error) {
	if len(candidates) == 0 {
		return nil, ErrNoHealthyTarget
	}

	switch b.algorithm {
	case "least-connections":
		return b.leastConnections(candidates), nil
	case "ip-hash":
		return b.ipHash(candidates, clientIP), nil
	case "weighted":
		return b.weighted(candidates), nil
	case "random":
		return b.random(candidates), nil
	default: // round-robin
		return b.roundRobin(candidates), nil
	}
}

// Acquire marks the start of a forwarded request against t.
func (b *Balancer) Acquire(t *Target) {
	t.acquire()
}

// Release must run on every exit path of a forwarded request.
func (b *Balancer) Release(t *Target) {
	t.release()
}

func (b *Balancer) roundRobin(candidates []*Target) *Target {
	idx := b.cursor.Add(1) - 1
	return candidates[idx%uint64(len(candidates))]
}

func (b *Balancer) leastConnections(candidates []*Target) *Target {
	selected := candidates[0]
	min := selected.ActiveConns()
	for _, t := range candidates[1:] {
		if conns := t.ActiveConns(); conns < min {
			min = conns
			selected = t
		}
	}
	return selected
}

// ipHash is stable across restarts for the same IP and ordered candidate set.
func (b *Balancer) ipHash(candidates []*Target, clientIP string) *Target {
	h := fnv.New32a()
	h.Write([]byte(clientIP))
	return candidates[h.Sum32()%uint32(len(candidates))]
}

// weighted implements smooth weighted round-robin: each pick advances every
// candidate by its weight and selects the highest accumulated weight, so the
// long-run distribution matches the weights without bursts. Weight 0 excludes
// a target.
func (b *Balancer) weighted(candidates []*Target) *Target {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	var selected *Target
	for _, t := range candidates {
		if t.Weight <= 0 {
			continue
		}
		total += t.Weight
		b.current[t] += t.Weight
		if selected == nil || b.current[t] > b.current[selected] {
			selected = t
		}
	}
	if selected == nil {
		// All weights zero; fall back to plain rotation.
		return b.roundRobin(candidates)
	}
	b.current[selected] -= total
	return selected
}

func (b *Balancer) random(candidates []*Target) *Target {
	total := 0
	for _, t := range candidates {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total == 0 {
		return candidates[rand.Intn(len(candidates))]
	}

	r := rand.Intn(total)
	for _, t := range candidates {
		if t.Weight <= 0 {
			continue
		}
		r -= t.Weight
		if r < 0 {
			return t
		}
	}
	return candidates[len(candidates)-1]
}

// forget drops balancer state for a removed target.
func (b *Balancer) forget(t *Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.current, t)
}
