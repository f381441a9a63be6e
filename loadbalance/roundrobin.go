package loadbalance

import (
	"sync/atomic"
)

// RoundRobinBalancer rotates through the tier in order, ignoring weights.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrEmptyCandidateSet
	}
	index := (b.counter.Add(1) - 1) % uint64(len(candidates))
	return candidates[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "round_robin"
}
