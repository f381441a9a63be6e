// Package loadbalance provides the strategies used to pick one endpoint out of
// a tier of equally preferred service candidates.
//
// Two strategies are implemented:
//   - WeightedRandom:  draws proportionally to each candidate's SRV weight
//   - RoundRobin:      rotates through the tier, ignoring weights
//
// A Selector binds a non-empty tier to a strategy and can be drawn from
// indefinitely.
package loadbalance

import (
	"errors"
	"net"
)

// ErrEmptyCandidateSet is returned when there is nothing to choose from.
var ErrEmptyCandidateSet = errors.New("empty candidate set")

// Endpoint is a resolved network location. Port is kept as a string the way
// it is handed out to callers building URLs.
type Endpoint struct {
	Address string
	Port    string
}

// String joins address and port, bracketing IPv6 addresses.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Address, e.Port)
}

// Candidate is one SRV answer joined with its address record.
type Candidate struct {
	Endpoint Endpoint
	Priority int
	Weight   int
}

// Balancer is the interface for selection strategies.
// Pick is called on every draw and must be goroutine-safe.
type Balancer interface {
	// Pick selects one candidate from a non-empty tier.
	Pick(candidates []Candidate) (Candidate, error)

	// Name returns the strategy name (for logging/config).
	Name() string
}

// ByName returns the strategy registered under name. The empty name selects
// weighted random.
func ByName(name string) (Balancer, error) {
	switch name {
	case "", "weighted_random":
		return &WeightedRandomBalancer{}, nil
	case "round_robin":
		return &RoundRobinBalancer{}, nil
	default:
		return nil, errors.New("unknown balancer: " + name)
	}
}
