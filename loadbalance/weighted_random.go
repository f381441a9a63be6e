package loadbalance

import (
	"math/rand/v2"
)

// WeightedRandomBalancer samples with replacement, each candidate being picked
// with probability weight/total. Zero (and negative) weights are never picked
// unless every weight is zero, in which case the draw is uniform.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(candidates []Candidate) (Candidate, error) {
	if len(candidates) == 0 {
		return Candidate{}, ErrEmptyCandidateSet
	}

	// total weight of the tier
	total := 0
	for _, c := range candidates {
		if c.Weight > 0 {
			total += c.Weight
		}
	}

	if total == 0 {
		return candidates[rand.IntN(len(candidates))], nil
	}

	// random point in [0, total), walk until it falls inside a candidate's span
	r := rand.IntN(total)
	for _, c := range candidates {
		if c.Weight <= 0 {
			continue
		}
		r -= c.Weight
		if r < 0 {
			return c, nil
		}
	}

	// unreachable: r < total always lands inside some span
	return candidates[len(candidates)-1], nil
}

func (b *WeightedRandomBalancer) Name() string {
	return "weighted_random"
}
