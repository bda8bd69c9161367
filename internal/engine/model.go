// Package engine owns the grid, the detention registry, and the scheduler,
// and drives the simulation one tick at a time.
package engine

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/detention"
	"github.com/talgya/unrest/internal/entropy"
	"github.com/talgya/unrest/internal/world"
)

// Model is the complete simulation state. Step is the only mutator once the
// run has started; the read accessors are safe to call from other
// goroutines while it runs.
type Model struct {
	mu sync.RWMutex

	params    Params
	grid      *world.Grid[*agents.Agent]
	registry  *detention.Registry
	scheduler Scheduler
	rng       *entropy.Stream
	collector Collector

	population    []*agents.Agent // Every agent ever placed, in ID order
	index         map[agents.AgentID]*agents.Agent
	pending       []*agents.Agent // Arrested this tick, awaiting admission
	snapshotEvery uint64

	tick    uint64
	started bool
	running bool
	last    *TickRecord

	subMu   sync.Mutex
	subs    map[int]chan *TickRecord
	nextSub int
}

// NewModel validates p and builds an empty model. Agents are added through
// the Place methods before Start. A nil collector discards records.
func NewModel(p Params, c Collector) (*Model, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	grid, err := world.NewGrid[*agents.Agent](p.Width, p.Height, p.Wrap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	registry, err := detention.NewRegistry(p.JailCapacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	rng := entropy.NewStream(p.Seed)
	p.Seed = rng.Seed()

	return &Model{
		params:        p,
		grid:          grid,
		registry:      registry,
		rng:           rng,
		collector:     c,
		index:         make(map[agents.AgentID]*agents.Agent),
		snapshotEvery: 1,
		subs:          make(map[int]chan *TickRecord),
	}, nil
}

// SetSnapshotEvery controls how often tick records carry per-agent
// snapshots: every n ticks, or never when n is zero. Tick zero always
// carries them unless n is zero.
func (m *Model) SetSnapshotEvery(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotEvery = n
}

// Width and Height report the grid extent.
func (m *Model) Width() int  { return m.params.Width }
func (m *Model) Height() int { return m.params.Height }

// Rand returns the model's random stream. Placement strategies draw from
// it so that a seed reproduces the initial population too.
func (m *Model) Rand() *entropy.Stream { return m.rng }

// IsEmpty reports whether pos is on the grid and unoccupied.
func (m *Model) IsEmpty(pos world.Coord) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.grid.IsEmpty(pos)
}

// PlaceResident adds a Quiescent resident at pos.
func (m *Model) PlaceResident(pos world.Coord, traits agents.ResidentTraits) (*agents.Agent, error) {
	return m.place(func(id agents.AgentID) *agents.Agent {
		return agents.NewResident(id, pos, traits, m.params.ActiveThreshold, m.params.CitizenVision, m.params.DirectionBias)
	})
}

// PlaceSecurity adds a security agent at pos.
func (m *Model) PlaceSecurity(pos world.Coord) (*agents.Agent, error) {
	return m.place(func(id agents.AgentID) *agents.Agent {
		return agents.NewSecurity(id, pos, m.params.CopVision)
	})
}

// PlaceObstacle adds an obstacle at pos.
func (m *Model) PlaceObstacle(pos world.Coord) (*agents.Agent, error) {
	return m.place(func(id agents.AgentID) *agents.Agent {
		return agents.NewObstacle(id, pos)
	})
}

func (m *Model) place(build func(agents.AgentID) *agents.Agent) (*agents.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil, fmt.Errorf("placement after start: %w", world.ErrInvariantViolation)
	}
	a := build(agents.AgentID(len(m.population) + 1))
	pos, ok := m.grid.Normalize(a.Position)
	if !ok {
		return nil, fmt.Errorf("place %s at %s: %w", a.Kind, a.Position, world.ErrInvalidMove)
	}
	a.Position = pos
	if err := m.grid.Place(pos, a); err != nil {
		return nil, fmt.Errorf("place %s: %w", a.Kind, err)
	}
	m.population = append(m.population, a)
	m.index[a.ID] = a
	m.scheduler.Add(a)
	return a, nil
}

// Start freezes the population, reports the tick-zero record, and marks
// the model running. Starting twice is a no-op.
func (m *Model) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.started = true
	m.running = true

	rec := m.record()
	if err := m.report(rec); err != nil {
		m.running = false
		return err
	}
	slog.Info("model started",
		"seed", m.params.Seed,
		"grid", fmt.Sprintf("%dx%d", m.params.Width, m.params.Height),
		"wrap", m.params.Wrap,
		"residents", rec.Counts.Residents(),
		"security", rec.Security,
		"obstacles", rec.Obstacles,
		"jail_capacity", m.params.JailCapacity,
	)
	return nil
}

// Stop halts the model; further Steps return ErrStopped.
func (m *Model) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
}

// Params returns the parameters the model runs with. Seed holds the value
// actually used.
func (m *Model) Params() Params { return m.params }

// Seed returns the seed of the model's random stream.
func (m *Model) Seed() int64 { return m.params.Seed }

// Tick returns the number of completed ticks.
func (m *Model) Tick() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tick
}

// Running reports whether the model will accept another Step.
func (m *Model) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Started reports whether Start has been called.
func (m *Model) Started() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Last returns the most recent tick record, or nil before Start. Records
// are never modified after they are reported.
func (m *Model) Last() *TickRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Agent returns a copy of the agent with the given ID.
func (m *Model) Agent(id agents.AgentID) (agents.Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.index[id]
	if !ok {
		return agents.Agent{}, false
	}
	return cloneAgent(a), true
}

// Agents returns copies of every agent matching keep, in ID order. A nil
// keep matches everything.
func (m *Model) Agents(keep func(*agents.Agent) bool) []agents.Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]agents.Agent, 0, len(m.population))
	for _, a := range m.population {
		if keep == nil || keep(a) {
			out = append(out, cloneAgent(a))
		}
	}
	return out
}

func cloneAgent(a *agents.Agent) agents.Agent {
	c := *a
	if a.Resident != nil {
		r := *a.Resident
		c.Resident = &r
	}
	if a.Security != nil {
		s := *a.Security
		c.Security = &s
	}
	return c
}

// DetentionStatus summarizes the detention registry.
type DetentionStatus struct {
	Capacity int              `json:"capacity"`
	Held     int              `json:"held"`
	Admitted uint64           `json:"admitted"`
	Refused  uint64           `json:"refused"`
	Members  []agents.AgentID `json:"members"`
}

// Detention returns the registry's current state. Members are in
// admission order.
func (m *Model) Detention() DetentionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	held := m.registry.Held()
	ids := make([]agents.AgentID, len(held))
	for i, a := range held {
		ids[i] = a.ID
	}
	return DetentionStatus{
		Capacity: m.registry.Capacity(),
		Held:     m.registry.Len(),
		Admitted: m.registry.Admitted(),
		Refused:  m.registry.Refused(),
		Members:  ids,
	}
}

// Layout returns the grid as rows of cell symbols, north row first:
// '.' empty, 'q' 'a' 'd' residents by condition, 'S' security, '#' obstacle.
func (m *Model) Layout() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows := make([][]byte, m.params.Height)
	for i := range rows {
		rows[i] = bytes.Repeat([]byte{'.'}, m.params.Width)
	}
	m.grid.Each(func(c world.Coord, a *agents.Agent) {
		rows[m.params.Height-1-c.Y][c.X] = symbol(a)
	})
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = string(r)
	}
	return out
}

func symbol(a *agents.Agent) byte {
	if a == nil {
		return '.'
	}
	switch a.Kind {
	case agents.KindResident:
		switch a.Resident.Condition {
		case agents.Active:
			return 'a'
		case agents.Deviant:
			return 'd'
		default:
			return 'q'
		}
	case agents.KindSecurity:
		return 'S'
	case agents.KindObstacle:
		return '#'
	default:
		return '?'
	}
}

// Subscribe registers a listener for tick records. Sends never block the
// tick loop; a slow listener misses records.
func (m *Model) Subscribe() (int, <-chan *TickRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan *TickRecord, 16)
	m.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (m *Model) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if ch, ok := m.subs[id]; ok {
		close(ch)
		delete(m.subs, id)
	}
}

func (m *Model) broadcast(rec *TickRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}
