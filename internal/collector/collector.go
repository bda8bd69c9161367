// Package collector provides sinks for the model's tick records.
package collector

import (
	"errors"
	"sync"

	"github.com/talgya/unrest/internal/agents"
	"github.com/talgya/unrest/internal/engine"
)

// Memory keeps every record in memory. It is safe to read while the model
// runs.
type Memory struct {
	mu      sync.RWMutex
	records []*engine.TickRecord
}

// NewMemory creates an empty in-memory collector.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Collect(rec *engine.TickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns the collected records in tick order.
func (m *Memory) Records() []*engine.TickRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*engine.TickRecord(nil), m.records...)
}

// Counts returns the aggregate series.
func (m *Memory) Counts() []engine.Counts {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]engine.Counts, len(m.records))
	for i, r := range m.records {
		out[i] = r.Counts
	}
	return out
}

// Last returns the most recent record, or nil if none.
func (m *Memory) Last() *engine.TickRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return nil
	}
	return m.records[len(m.records)-1]
}

// AgentSeries returns one agent's snapshots across the collected records
// that carry them.
func (m *Memory) AgentSeries(id agents.AgentID) []engine.AgentSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []engine.AgentSnapshot
	for _, r := range m.records {
		for _, s := range r.Agents {
			if s.ID == id {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// Multi fans a record out to several collectors in order. Every collector
// sees every record; the errors are joined.
type Multi []engine.Collector

func (m Multi) Collect(rec *engine.TickRecord) error {
	var errs []error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Collect(rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
