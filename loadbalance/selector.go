package loadbalance

// Selector draws endpoints from a fixed, non-empty tier of candidates.
// Draws are independent: nothing is memoized and the selector never runs dry.
type Selector struct {
	candidates []Candidate
	balancer   Balancer
}

// NewSelector binds candidates to a strategy. A nil balancer selects
// weighted random.
func NewSelector(candidates []Candidate, balancer Balancer) (*Selector, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyCandidateSet
	}
	if balancer == nil {
		balancer = &WeightedRandomBalancer{}
	}
	owned := make([]Candidate, len(candidates))
	copy(owned, candidates)
	return &Selector{candidates: owned, balancer: balancer}, nil
}

// Next returns one endpoint.
func (s *Selector) Next() Endpoint {
	c, err := s.balancer.Pick(s.candidates)
	if err != nil {
		// the tier is non-empty, strategies only fail on empty input
		return s.candidates[0].Endpoint
	}
	return c.Endpoint
}

// Candidates returns a copy of the tier.
func (s *Selector) Candidates() []Candidate {
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}
