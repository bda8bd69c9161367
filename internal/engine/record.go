package engine

import (
	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/world"
)

// Counts are the per-tick aggregates. Quiescent, Active and Deviant
// exclude detained residents, so the four counts always sum to the
// resident population.
type Counts struct {
	Quiescent int `json:"quiescent"`
	Active    int `json:"active"`
	Deviant   int `json:"deviant"`
	Detained  int `json:"detained"`
}

// Residents returns the total resident population the counts cover.
func (c Counts) Residents() int {
	return c.Quiescent + c.Active + c.Deviant + c.Detained
}

// AgentSnapshot is one agent's reportable state at a tick boundary.
type AgentSnapshot struct {
	ID                agents.AgentID `json:"id"`
	Kind              agents.Kind    `json:"kind"`
	Position          world.Coord    `json:"position"`
	Condition         string         `json:"condition,omitempty"` // Residents only
	Detained          bool           `json:"detained,omitempty"`
	ArrestProbability float64        `json:"arrest_probability,omitempty"`
}

// TickRecord is what the model reports after every tick, and once at
// tick zero when the run starts.
type TickRecord struct {
	Tick   uint64 `json:"tick"`
	Counts Counts `json:"counts"`

	AvgAggression float64 `json:"avg_aggression"` // Mean over free Active and Deviant residents
	Admitted      uint64  `json:"admitted"`       // Cumulative detention admissions
	Security      int     `json:"security"`
	Obstacles     int     `json:"obstacles"`

	Agents []AgentSnapshot `json:"agents,omitempty"`
}

// Collector consumes tick records. It is called synchronously from the
// tick loop; an error halts the run.
type Collector interface {
	Collect(rec *TickRecord) error
}

// CollectorFunc adapts a function to the Collector interface.
type CollectorFunc func(rec *TickRecord) error

// Collect calls f(rec).
func (f CollectorFunc) Collect(rec *TickRecord) error { return f(rec) }
