package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/detention"
	"github.com/talgya/unrest/internal/logging"
	"github.com/talgya/unrest/internal/world"
)

// Step advances the model by one tick: every live agent is activated once
// in a fresh random order, pending arrests are drained into detention, and
// the resulting record is reported. Once the tick counter exceeds MaxIters
// the model stops. Any error halts the model.
func (m *Model) Step() (*TickRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil, ErrStopped
	}

	ctx := &agents.Context{
		Grid:               m.grid,
		Rand:               m.rng,
		ArrestProbConstant: m.params.ArrestProbConstant,
		Movement:           m.params.Movement,
		DetentionRoom:      m.registry.Room() - len(m.pending),
	}
	for _, a := range m.scheduler.Order(m.rng) {
		intent := agents.Decide(a, ctx)
		if err := m.apply(a, intent, ctx); err != nil {
			m.running = false
			return nil, fmt.Errorf("tick %d, agent %d: %w", m.tick+1, a.ID, err)
		}
	}

	if err := m.drain(); err != nil {
		m.running = false
		return nil, fmt.Errorf("tick %d: %w", m.tick+1, err)
	}

	m.tick++
	rec := m.record()
	if err := m.report(rec); err != nil {
		m.running = false
		return nil, err
	}

	if m.tick > m.params.MaxIters {
		m.running = false
		slog.Info("model reached max iterations", "tick", m.tick)
	}
	return rec, nil
}

// apply carries out one intent. Moves take effect immediately so later
// activations in the same tick see them.
func (m *Model) apply(a *agents.Agent, intent agents.Intent, ctx *agents.Context) error {
	if t := intent.Arrest; t != nil {
		if t.Kind != agents.KindResident {
			return fmt.Errorf("arrest of %s agent %d: %w", t.Kind, t.ID, world.ErrInvariantViolation)
		}
		if t.Resident.Detained {
			return nil
		}
		t.Resident.Detained = true
		m.pending = append(m.pending, t)
		ctx.DetentionRoom--
		slog.Debug("arrest requested", "security", a.ID, "resident", t.ID, "condition", t.Resident.Condition)
		return nil
	}

	if intent.MoveTo != nil {
		dest, err := m.grid.Move(a.Position, *intent.MoveTo)
		if err != nil {
			return err
		}
		slog.Log(context.Background(), logging.LevelTrace, "move", "agent", a.ID, "from", a.Position, "to", dest)
		a.Position = dest
	}
	return nil
}

// drain admits pending arrests. Admitted residents leave the grid and the
// scheduler. A resident already held is skipped. An arrest the registry
// refuses is released again.
func (m *Model) drain() error {
	for _, a := range m.pending {
		admitted, err := m.registry.Admit(a)
		switch {
		case errors.Is(err, detention.ErrFull):
			a.Resident.Detained = false
			slog.Warn("detention full, arrest released", "resident", a.ID, "capacity", m.registry.Capacity())
			continue
		case err != nil:
			return err
		case !admitted:
			continue
		}

		if occ, ok := m.grid.Occupant(a.Position); ok && occ == a {
			m.grid.Remove(a.Position)
		}
		m.scheduler.Remove(a)
	}
	m.pending = m.pending[:0]
	return nil
}

// record summarizes the population. Detained residents are counted from
// their flag and excluded from the condition counts.
func (m *Model) record() *TickRecord {
	rec := &TickRecord{
		Tick:     m.tick,
		Admitted: m.registry.Admitted(),
	}
	withAgents := m.snapshotEvery > 0 && m.tick%m.snapshotEvery == 0
	if withAgents {
		rec.Agents = make([]AgentSnapshot, 0, len(m.population))
	}

	var aggression float64
	var rebels int
	for _, a := range m.population {
		snap := AgentSnapshot{ID: a.ID, Kind: a.Kind, Position: a.Position}

		switch a.Kind {
		case agents.KindResident:
			r := a.Resident
			snap.Condition = r.Condition.String()
			snap.Detained = r.Detained
			snap.ArrestProbability = r.ArrestProbability
			switch {
			case r.Detained:
				rec.Counts.Detained++
			case r.Condition == agents.Quiescent:
				rec.Counts.Quiescent++
			case r.Condition == agents.Active:
				rec.Counts.Active++
				aggression += r.Aggression
				rebels++
			case r.Condition == agents.Deviant:
				rec.Counts.Deviant++
				aggression += r.Aggression
				rebels++
			}
		case agents.KindSecurity:
			rec.Security++
		case agents.KindObstacle:
			rec.Obstacles++
		}

		if withAgents {
			rec.Agents = append(rec.Agents, snap)
		}
	}
	if rebels > 0 {
		rec.AvgAggression = aggression / float64(rebels)
	}
	return rec
}

func (m *Model) report(rec *TickRecord) error {
	if m.collector != nil {
		if err := m.collector.Collect(rec); err != nil {
			return fmt.Errorf("collect tick %d: %w", rec.Tick, err)
		}
	}
	m.last = rec
	m.broadcast(rec)
	slog.Debug("tick",
		"tick", rec.Tick,
		"quiescent", rec.Counts.Quiescent,
		"active", rec.Counts.Active,
		"deviant", rec.Counts.Deviant,
		"detained", rec.Counts.Detained,
	)
	return nil
}
