package loadbalance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectorEmpty(t *testing.T) {
	s, err := NewSelector(nil, nil)
	require.ErrorIs(t, err, ErrEmptyCandidateSet)
	assert.Nil(t, s)
}

func TestSelectorNextNeverRunsDry(t *testing.T) {
	s, err := NewSelector(testCandidates, nil)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 10000; i++ {
		seen[s.Next().Address] = true
	}
	assert.Len(t, seen, 3)
}

func TestSelectorOwnsCandidates(t *testing.T) {
	cands := []Candidate{{Endpoint: Endpoint{Address: "a", Port: "1"}, Weight: 1}}
	s, err := NewSelector(cands, &RoundRobinBalancer{})
	require.NoError(t, err)

	cands[0].Endpoint.Address = "mutated"
	assert.Equal(t, "a", s.Next().Address)

	got := s.Candidates()
	got[0].Endpoint.Address = "mutated"
	assert.Equal(t, "a", s.Candidates()[0].Endpoint.Address)
}
