// Package detention tracks residents removed from circulation under a
// fixed capacity.
package detention

import (
	"errors"
	"fmt"

	"github.com/talgya/unrest/internal/agents"
)

// ErrFull is returned when an admission would exceed capacity.
var ErrFull = errors.New("detention at capacity")

// Registry is the ordered set of detained residents. Its length never
// exceeds its capacity.
type Registry struct {
	capacity int
	held     []*agents.Agent
	index    map[agents.AgentID]int
	admitted uint64
	refused  uint64
}

// NewRegistry creates an empty registry. Capacity must not be negative.
func NewRegistry(capacity int) (*Registry, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("negative detention capacity %d", capacity)
	}
	return &Registry{
		capacity: capacity,
		index:    make(map[agents.AgentID]int),
	}, nil
}

// Capacity returns the maximum number of simultaneous detentions.
func (r *Registry) Capacity() int { return r.capacity }

// Len returns the number currently held.
func (r *Registry) Len() int { return len(r.held) }

// Room returns how many more residents can be admitted.
func (r *Registry) Room() int { return r.capacity - len(r.held) }

// Admitted returns the cumulative number of admissions.
func (r *Registry) Admitted() uint64 { return r.admitted }

// Refused returns the cumulative number of admissions turned away for
// lack of capacity.
func (r *Registry) Refused() uint64 { return r.refused }

// Contains reports whether the resident is held.
func (r *Registry) Contains(id agents.AgentID) bool {
	_, ok := r.index[id]
	return ok
}

// Admit holds a resident. Admitting one already held is a no-op and
// reports false with no error. Admission past capacity returns ErrFull.
func (r *Registry) Admit(a *agents.Agent) (bool, error) {
	if a.Kind != agents.KindResident {
		return false, fmt.Errorf("cannot detain %s agent %d", a.Kind, a.ID)
	}
	if r.Contains(a.ID) {
		return false, nil
	}
	if len(r.held) >= r.capacity {
		r.refused++
		return false, ErrFull
	}
	r.index[a.ID] = len(r.held)
	r.held = append(r.held, a)
	r.admitted++
	return true, nil
}

// Held returns the detained residents in admission order. The slice is a
// copy.
func (r *Registry) Held() []*agents.Agent {
	out := make([]*agents.Agent, len(r.held))
	copy(out, r.held)
	return out
}
