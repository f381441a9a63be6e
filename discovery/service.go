package discovery

import (
	"tunnel-reaper/loadbalance"
)

// Service is the preferred tier of one lookup. Each accessor is an
// independent draw, so Address and Port called back to back may come from
// different candidates; use Next when both are needed.
type Service struct {
	Name     string
	selector *loadbalance.Selector
}

// Next draws one endpoint.
func (s *Service) Next() loadbalance.Endpoint {
	return s.selector.Next()
}

// URL draws one endpoint formatted as host:port.
func (s *Service) URL() string {
	return s.selector.Next().String()
}

func (s *Service) Address() string {
	return s.selector.Next().Address
}

func (s *Service) Port() string {
	return s.selector.Next().Port
}

// Entries lists every endpoint of the tier.
func (s *Service) Entries() []loadbalance.Endpoint {
	cands := s.selector.Candidates()
	out := make([]loadbalance.Endpoint, len(cands))
	for i, c := range cands {
		out[i] = c.Endpoint
	}
	return out
}
