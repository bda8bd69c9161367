package engine

import (
	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/entropy"
)

// Scheduler holds the live agents and hands out a fresh uniformly random
// activation order every tick.
type Scheduler struct {
	live  []*agents.Agent
	order []*agents.Agent
}

// Add registers an agent for activation.
func (s *Scheduler) Add(a *agents.Agent) {
	s.live = append(s.live, a)
}

// Remove drops an agent from future activations. Removing an agent that
// is not scheduled is a no-op and reports false.
func (s *Scheduler) Remove(a *agents.Agent) bool {
	for i, b := range s.live {
		if b == a {
			s.live = append(s.live[:i], s.live[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of live agents.
func (s *Scheduler) Len() int { return len(s.live) }

// Order returns this tick's activation order. The live set is kept in
// insertion order and the permutation is drawn from rng, so the result
// depends only on the seed and the history of the run. The returned slice
// is reused by the next call.
func (s *Scheduler) Order(rng *entropy.Stream) []*agents.Agent {
	s.order = append(s.order[:0], s.live...)
	rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	return s.order
}
